// Package records models the two upstream document types the ingestion
// pipeline stores: Hansard contributions and Parliamentary Questions, along
// with the shared chunking contract (Document) both satisfy.
package records

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// ChunkDict is one unit handed to the embedder/vector store: the chunk text
// plus every field of the parent document except the full text fields, so
// the original document's metadata rides along on every chunk's payload.
type ChunkDict struct {
	Text      string
	ChunkType string
	ChunkID   string
	Payload   map[string]any
}

// Document is satisfied by every record type that can be split into chunks
// and upserted to a vector collection.
type Document interface {
	DocumentURI() string
	EmbeddableText() string
	ToChunks(chunk func(text string) []string) []ChunkDict
}

// DebateParent is one level of the debate hierarchy a contribution sits
// under (e.g. a Bill, its stages, and the specific clause being debated).
type DebateParent struct {
	ID         int    `json:"Id"`
	Title      string `json:"Title"`
	ParentID   *int   `json:"ParentId"`
	ExternalID string `json:"ExternalId"`
}

// Contribution is a single Hansard speech or intervention. Decoding is
// strict: any field the upstream API adds that this struct doesn't know
// about is an error, mirroring the original Python model's
// extra="forbid" contract (see DecodeContribution).
type Contribution struct {
	MemberName            *string        `json:"MemberName"`
	MemberID               *int           `json:"MemberId"`
	AttributedTo           *string        `json:"AttributedTo"`
	ItemID                 *int           `json:"ItemId"`
	ContributionExtID       *string        `json:"ContributionExtId"`
	ContributionText       *string        `json:"ContributionText"`
	ContributionTextFull   *string        `json:"ContributionTextFull"`
	HRSTag                 *string        `json:"HRSTag"`
	HansardSection          *string        `json:"HansardSection"`
	DebateSection           *string        `json:"DebateSection"`
	DebateSectionID         *int           `json:"DebateSectionId"`
	DebateSectionExtID      *string        `json:"DebateSectionExtId"`
	SittingDate             *time.Time     `json:"SittingDate"`
	Section                 *string        `json:"Section"`
	House                   *string        `json:"House"`
	OrderInDebateSection     *int           `json:"OrderInDebateSection"`
	DebateSectionOrder       *int           `json:"DebateSectionOrder"`
	Rank                     *int           `json:"Rank"`
	Timecode                 *time.Time     `json:"Timecode"`
	DebateParents            []DebateParent `json:"debate_parents,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
}

// knownContributionFields lists every JSON key Contribution understands;
// used by DecodeContribution to reject upstream additions instead of
// silently dropping them.
var knownContributionFields = map[string]struct{}{
	"MemberName": {}, "MemberId": {}, "AttributedTo": {}, "ItemId": {},
	"ContributionExtId": {}, "ContributionText": {}, "ContributionTextFull": {},
	"HRSTag": {}, "HansardSection": {}, "DebateSection": {}, "DebateSectionId": {},
	"DebateSectionExtId": {}, "SittingDate": {}, "Section": {}, "House": {},
	"OrderInDebateSection": {}, "DebateSectionOrder": {}, "Rank": {}, "Timecode": {},
	"debate_parents": {}, "created_at": {},
}

// DecodeContribution parses a raw Hansard API item, returning an error if it
// contains any field this package does not model.
func DecodeContribution(raw []byte) (*Contribution, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode contribution: %w", err)
	}
	for key := range probe {
		if _, ok := knownContributionFields[key]; !ok {
			return nil, fmt.Errorf("decode contribution: unexpected field %q", key)
		}
	}
	var c Contribution
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode contribution: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return &c, nil
}

// DebateURL is the canonical Hansard URL for the debate this contribution
// belongs to.
func (c *Contribution) DebateURL() string {
	house := ""
	if c.House != nil {
		house = *c.House
	}
	date := ""
	if c.SittingDate != nil {
		date = c.SittingDate.Format("2006-01-02")
	}
	extID := ""
	if c.DebateSectionExtID != nil {
		extID = *c.DebateSectionExtID
	}
	return fmt.Sprintf("https://hansard.parliament.uk/%s/%s/debates/%s/link", house, date, extID)
}

// ContributionURL is the deep link to this specific contribution within its
// debate, or "" if the upstream item has no external id.
func (c *Contribution) ContributionURL() string {
	if c.ContributionExtID == nil {
		return ""
	}
	return fmt.Sprintf("%s#contribution-%s", c.DebateURL(), *c.ContributionExtID)
}

// DocumentURI deterministically identifies this contribution. When the
// upstream item carries an external id that id is used directly; otherwise a
// sha256 of the debate section external id, the contribution text and the
// order within the debate section stands in, so two harvests of
// the same un-identified item always resolve to the same document.
func (c *Contribution) DocumentURI() string {
	debateExtID := ""
	if c.DebateSectionExtID != nil {
		debateExtID = *c.DebateSectionExtID
	}
	if c.ContributionExtID == nil {
		text := ""
		if c.ContributionText != nil {
			text = *c.ContributionText
		}
		order := 0
		if c.OrderInDebateSection != nil {
			order = *c.OrderInDebateSection
		}
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%d", debateExtID, text, order)))
		return fmt.Sprintf("debate_%s_contrib_%x", debateExtID, sum)
	}
	return fmt.Sprintf("debate_%s_contrib_%s", debateExtID, *c.ContributionExtID)
}

// EmbeddableText is the text the embedding model actually sees.
func (c *Contribution) EmbeddableText() string {
	if c.ContributionTextFull != nil {
		return *c.ContributionTextFull
	}
	return ""
}

// ToChunks splits the full contribution text via chunk and pairs each
// resulting piece with the document's metadata payload, minus the two raw
// text fields (which would otherwise duplicate the chunk text itself).
func (c *Contribution) ToChunks(chunk func(text string) []string) []ChunkDict {
	pieces := chunk(c.EmbeddableText())
	payload := c.basePayload()
	out := make([]ChunkDict, 0, len(pieces))
	for i, text := range pieces {
		out = append(out, ChunkDict{
			Text:      text,
			ChunkType: "contribution",
			ChunkID:   fmt.Sprintf("%s_chunk_%d", c.DocumentURI(), i),
			Payload:   payload,
		})
	}
	return out
}

func (c *Contribution) basePayload() map[string]any {
	return map[string]any{
		"MemberName":           c.MemberName,
		"MemberId":             c.MemberID,
		"AttributedTo":         c.AttributedTo,
		"ItemId":                c.ItemID,
		"ContributionExtId":     c.ContributionExtID,
		"HRSTag":                c.HRSTag,
		"HansardSection":        c.HansardSection,
		"DebateSection":         c.DebateSection,
		"DebateSectionId":       c.DebateSectionID,
		"DebateSectionExtId":    c.DebateSectionExtID,
		"SittingDate":           c.SittingDate,
		"Section":                c.Section,
		"House":                  c.House,
		"OrderInDebateSection":   c.OrderInDebateSection,
		"DebateSectionOrder":     c.DebateSectionOrder,
		"Rank":                   c.Rank,
		"Timecode":               c.Timecode,
		"debate_parents":         c.DebateParents,
		"created_at":             c.CreatedAt,
		"debate_url":             c.DebateURL(),
		"contribution_url":       c.ContributionURL(),
		"document_uri":           c.DocumentURI(),
	}
}
