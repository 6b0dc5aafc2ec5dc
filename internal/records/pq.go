package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Member describes a parliamentary member as embedded in a question's
// asking/answering/correcting member fields.
type Member struct {
	ID                int     `json:"id"`
	ListAs            *string `json:"listAs"`
	Name              *string `json:"name"`
	Party             *string `json:"party"`
	PartyColour       *string `json:"partyColour"`
	PartyAbbreviation *string `json:"partyAbbreviation"`
	MemberFrom        *string `json:"memberFrom"`
	ThumbnailURL      *string `json:"thumbnailUrl"`
}

// Attachment is a file attached to a question or answer.
type Attachment struct {
	URL           *string `json:"url"`
	Title         *string `json:"title"`
	FileType      *string `json:"fileType"`
	FileSizeBytes *int    `json:"fileSizeBytes"`
}

// GroupedQuestionDate records when a grouped (duplicate) question was tabled.
type GroupedQuestionDate struct {
	QuestionUIN *string   `json:"questionUin"`
	DateTabled  time.Time `json:"dateTabled"`
}

// ParliamentaryQuestion is a single written question and, once answered, its
// answer. Decoding is lenient: unknown upstream fields are ignored rather
// than rejected, mirroring the original model's extra="ignore" contract,
// since the PQ API has historically added fields more often than the
// Hansard one.
type ParliamentaryQuestion struct {
	ID                    int                   `json:"id"`
	AskingMemberID         int                   `json:"askingMemberId"`
	AskingMember           *Member               `json:"askingMember"`
	House                  string                `json:"house"`
	MemberHasInterest       bool                  `json:"memberHasInterest"`
	DateTabled              time.Time             `json:"dateTabled"`
	DateForAnswer           *time.Time            `json:"dateForAnswer"`
	UIN                     *string               `json:"uin"`
	QuestionText            *string               `json:"questionText"`
	AnsweringBodyID          int                   `json:"answeringBodyId"`
	AnsweringBodyName        *string               `json:"answeringBodyName"`
	IsWithdrawn              bool                  `json:"isWithdrawn"`
	IsNamedDay               bool                  `json:"isNamedDay"`
	GroupedQuestions         []string              `json:"groupedQuestions"`
	AnswerIsHolding          *bool                 `json:"answerIsHolding"`
	AnswerIsCorrection       *bool                 `json:"answerIsCorrection"`
	AnsweringMemberID         *int                  `json:"answeringMemberId"`
	AnsweringMember           *Member               `json:"answeringMember"`
	CorrectingMemberID        *int                  `json:"correctingMemberId"`
	CorrectingMember          *Member               `json:"correctingMember"`
	DateAnswered              *time.Time            `json:"dateAnswered"`
	AnswerText                *string               `json:"answerText"`
	OriginalAnswerText        *string               `json:"originalAnswerText"`
	ComparableAnswerText      *string               `json:"comparableAnswerText"`
	DateAnswerCorrected       *time.Time            `json:"dateAnswerCorrected"`
	DateHoldingAnswer         *time.Time            `json:"dateHoldingAnswer"`
	AttachmentCount           int                   `json:"attachmentCount"`
	Heading                   *string               `json:"heading"`
	Attachments               []Attachment          `json:"attachments"`
	GroupedQuestionsDates     []GroupedQuestionDate `json:"groupedQuestionsDates"`
	CreatedAt                 time.Time             `json:"created_at"`
}

// DecodePQ parses a single "value" object from the PQ API response, ignoring
// any fields it does not model.
func DecodePQ(raw []byte) (*ParliamentaryQuestion, error) {
	var pq ParliamentaryQuestion
	if err := json.Unmarshal(raw, &pq); err != nil {
		return nil, fmt.Errorf("decode parliamentary question: %w", err)
	}
	if pq.CreatedAt.IsZero() {
		pq.CreatedAt = time.Now().UTC()
	}
	return &pq, nil
}

// DocumentURI deterministically identifies this question; PQs always carry
// a stable numeric id, so no hash fallback is needed here.
func (q *ParliamentaryQuestion) DocumentURI() string {
	return fmt.Sprintf("pq_%d", q.ID)
}

// IsTruncated reports whether the upstream question or answer text was cut
// off by the API (indicated by a trailing ellipsis).
func (q *ParliamentaryQuestion) IsTruncated() bool {
	if q.QuestionText != nil && strings.HasSuffix(*q.QuestionText, "...") {
		return true
	}
	if q.AnswerText != nil && strings.HasSuffix(*q.AnswerText, "...") {
		return true
	}
	return false
}

// EmbeddableText joins the question and answer text for a single combined
// similarity search over whole questions (used by callers that don't need
// chunk-level granularity).
func (q *ParliamentaryQuestion) EmbeddableText() string {
	question := ""
	if q.QuestionText != nil {
		question = *q.QuestionText
	}
	answer := ""
	if q.AnswerText != nil {
		answer = *q.AnswerText
	}
	return strings.TrimSpace(fmt.Sprintf("QUESTION: %s\n ANSWER: %s", question, answer))
}

// QuestionURL is the public written-questions detail page for this question.
func (q *ParliamentaryQuestion) QuestionURL() string {
	uin := ""
	if q.UIN != nil {
		uin = *q.UIN
	}
	return fmt.Sprintf("https://questions-statements.parliament.uk/written-questions/detail/%s/%s",
		q.DateTabled.Format("2006-01-02"), uin)
}

// ToChunks chunks the question text and answer text independently, so a
// search can land on just the question or just the answer. Chunk indices
// continue across the boundary: question chunks are numbered first, then
// answer chunks pick up where they left off, matching the original
// implementation's numbering so chunk_id sort order reconstructs reading
// order.
func (q *ParliamentaryQuestion) ToChunks(chunk func(text string) []string) []ChunkDict {
	questionText := ""
	if q.QuestionText != nil {
		questionText = *q.QuestionText
	}
	answerText := ""
	if q.AnswerText != nil {
		answerText = *q.AnswerText
	}
	questionChunks := chunk(questionText)
	answerChunks := chunk(answerText)

	payload := q.basePayload()
	out := make([]ChunkDict, 0, len(questionChunks)+len(answerChunks))
	idx := 0
	for _, text := range questionChunks {
		out = append(out, ChunkDict{
			Text: text, ChunkType: "question",
			ChunkID: fmt.Sprintf("%s_chunk_%d", q.DocumentURI(), idx),
			Payload: payload,
		})
		idx++
	}
	for _, text := range answerChunks {
		out = append(out, ChunkDict{
			Text: text, ChunkType: "answer",
			ChunkID: fmt.Sprintf("%s_chunk_%d", q.DocumentURI(), idx),
			Payload: payload,
		})
		idx++
	}
	return out
}

func (q *ParliamentaryQuestion) basePayload() map[string]any {
	return map[string]any{
		"id":                    q.ID,
		"askingMemberId":        q.AskingMemberID,
		"askingMember":          q.AskingMember,
		"house":                 q.House,
		"memberHasInterest":     q.MemberHasInterest,
		"dateTabled":            q.DateTabled,
		"dateForAnswer":         q.DateForAnswer,
		"uin":                   q.UIN,
		"answeringBodyId":       q.AnsweringBodyID,
		"answeringBodyName":     q.AnsweringBodyName,
		"isWithdrawn":           q.IsWithdrawn,
		"isNamedDay":            q.IsNamedDay,
		"groupedQuestions":      q.GroupedQuestions,
		"answerIsHolding":       q.AnswerIsHolding,
		"answerIsCorrection":    q.AnswerIsCorrection,
		"answeringMemberId":     q.AnsweringMemberID,
		"answeringMember":       q.AnsweringMember,
		"correctingMemberId":    q.CorrectingMemberID,
		"correctingMember":      q.CorrectingMember,
		"dateAnswered":          q.DateAnswered,
		"originalAnswerText":    q.OriginalAnswerText,
		"comparableAnswerText":  q.ComparableAnswerText,
		"dateAnswerCorrected":   q.DateAnswerCorrected,
		"dateHoldingAnswer":     q.DateHoldingAnswer,
		"attachmentCount":       q.AttachmentCount,
		"heading":               q.Heading,
		"attachments":           q.Attachments,
		"groupedQuestionsDates": q.GroupedQuestionsDates,
		"created_at":            q.CreatedAt,
		"document_uri":          q.DocumentURI(),
		"question_url":          q.QuestionURL(),
		"is_truncated":          q.IsTruncated(),
	}
}
