// Package vectorstore adapts the Qdrant gRPC client to the two collections
// this module maintains, grounded on
// internal/persistence/databases/qdrant_vector.go for the Go client shapes
// (UUID point-id generation, config parsing) and on the original
// parliament_mcp/qdrant_helpers.py for the exact collection/index schema
// this domain needs (named dense+sparse vectors, scalar quantization,
// per-field payload indexes).
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// PayloadIDField stashes a chunk's original, non-UUID id in the payload,
// since Qdrant point ids must be a UUID or an unsigned integer.
const PayloadIDField = "_original_id"

const (
	denseVectorName  = "text_dense"
	sparseVectorName = "text_sparse"
)

// Config names the two collections and the dense vector dimension shared by
// both.
type Config struct {
	URL                              string
	APIKey                           string
	HansardContributionsCollection    string
	ParliamentaryQuestionsCollection  string
	EmbeddingDimensions              int
}

// Store wraps a Qdrant client bound to this module's two collections.
type Store struct {
	client *qdrant.Client
	cfg    Config
}

// New dials Qdrant. Schema creation is a separate, idempotent step
// (EnsureSchema) so that process startup doesn't silently provision
// collections with stale settings.
func New(cfg Config) (*Store, error) {
	qcfg := &qdrant.Config{Host: cfg.URL, Port: 6334}
	if cfg.APIKey != "" {
		qcfg.APIKey = cfg.APIKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

func (s *Store) Close() error { return s.client.Close() }

// EnsureSchema creates both collections (named dense+sparse vectors, INT8
// always-RAM scalar quantization) and their payload indexes if they don't
// already exist. Safe to call on every process startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, collection := range []string{s.cfg.HansardContributionsCollection, s.cfg.ParliamentaryQuestionsCollection} {
		if err := s.ensureCollection(ctx, collection); err != nil {
			return fmt.Errorf("ensure collection %s: %w", collection, err)
		}
	}
	if err := s.createHansardIndexes(ctx); err != nil {
		return fmt.Errorf("create hansard indexes: %w", err)
	}
	if err := s.createPQIndexes(ctx); err != nil {
		return fmt.Errorf("create pq indexes: %w", err)
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(s.cfg.EmbeddingDimensions),
				Distance: qdrant.Distance_Dot,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {
				Modifier: qdrant.Modifier_Idf.Enum(),
			},
		}),
		QuantizationConfig: qdrant.NewQuantizationScalar(&qdrant.ScalarQuantization{
			Type:      qdrant.QuantizationType_Int8,
			AlwaysRam: qdrant.PtrOf(true),
		}),
	})
}

func textIndexParams() *qdrant.PayloadIndexParams {
	return qdrant.NewPayloadIndexParamsText(&qdrant.TextIndexParams{
		Tokenizer:     qdrant.TokenizerType_Word,
		MinTokenLen:   qdrant.PtrOf(uint64(2)),
		MaxTokenLen:   qdrant.PtrOf(uint64(10)),
		Lowercase:     qdrant.PtrOf(true),
		StopwordsEnglish: qdrant.PtrOf(true),
	})
}

func (s *Store) createHansardIndexes(ctx context.Context) error {
	collection := s.cfg.HansardContributionsCollection
	indexes := []struct {
		field  string
		schema *qdrant.PayloadIndexParams
	}{
		{"SittingDate", qdrant.NewPayloadIndexParamsDatetime(&qdrant.DatetimeIndexParams{})},
		{"DebateSectionExtId", qdrant.NewPayloadIndexParamsKeyword(&qdrant.KeywordIndexParams{})},
		{"MemberId", qdrant.NewPayloadIndexParamsInt(&qdrant.IntegerIndexParams{Lookup: qdrant.PtrOf(true), Range: qdrant.PtrOf(true)})},
		{"House", qdrant.NewPayloadIndexParamsKeyword(&qdrant.KeywordIndexParams{})},
		{"debate_parents[].Title", textIndexParams()},
		{"debate_parents[].ExternalId", qdrant.NewPayloadIndexParamsKeyword(&qdrant.KeywordIndexParams{})},
	}
	for _, idx := range indexes {
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      idx.field,
			FieldIndexParams: idx.schema,
		}); err != nil {
			return fmt.Errorf("field %s: %w", idx.field, err)
		}
	}
	return nil
}

func (s *Store) createPQIndexes(ctx context.Context) error {
	collection := s.cfg.ParliamentaryQuestionsCollection
	indexes := []struct {
		field  string
		schema *qdrant.PayloadIndexParams
	}{
		{"dateTabled", qdrant.NewPayloadIndexParamsDatetime(&qdrant.DatetimeIndexParams{})},
		{"dateAnswered", qdrant.NewPayloadIndexParamsDatetime(&qdrant.DatetimeIndexParams{})},
		{"house", qdrant.NewPayloadIndexParamsKeyword(&qdrant.KeywordIndexParams{})},
		{"askingMember.id", qdrant.NewPayloadIndexParamsInt(&qdrant.IntegerIndexParams{})},
		{"askingMember.party", qdrant.NewPayloadIndexParamsKeyword(&qdrant.KeywordIndexParams{})},
		{"answeringBodyName", textIndexParams()},
		{"id", qdrant.NewPayloadIndexParamsInt(&qdrant.IntegerIndexParams{Lookup: qdrant.PtrOf(true), Range: qdrant.PtrOf(true)})},
	}
	for _, idx := range indexes {
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName:   collection,
			FieldName:        idx.field,
			FieldIndexParams: idx.schema,
		}); err != nil {
			return fmt.Errorf("field %s: %w", idx.field, err)
		}
	}
	return nil
}

// Point is one chunk ready to be upserted: a stable chunk id, its dense and
// sparse vectors, and the payload the query handler reads back.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  SparseVector
	Payload map[string]any
}

// SparseVector mirrors embedding.SparseVector without importing that
// package, keeping vectorstore's public surface dependency-light.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// pointID turns an arbitrary chunk id into a Qdrant-legal point id,
// stashing the original string in the payload when it isn't already a UUID.
func pointID(id string, payload map[string]any) (*qdrant.PointId, map[string]any) {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id), payload
	}
	generated := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	withOriginal := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		withOriginal[k] = v
	}
	withOriginal[PayloadIDField] = id
	return qdrant.NewIDUUID(generated), withOriginal
}

// Upsert writes the given points to collection in a single call. The
// processor calls it once per sub-batch of at most UpsertSubBatchSize points
// per collection, so one processing batch can span several Upsert calls.
func (s *Store) Upsert(ctx context.Context, collection string, points []Point) error {
	out := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		id, payload := pointID(p.ID, p.Payload)
		vectors := qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVectorDense(p.Dense),
			sparseVectorName: qdrant.NewVectorSparse(&qdrant.SparseIndices{Data: p.Sparse.Indices}, p.Sparse.Values),
		})
		out = append(out, &qdrant.PointStruct{
			Id:      id,
			Vectors: vectors,
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         out,
	})
	return err
}

// RawClient exposes the underlying qdrant client for operations this package
// does not wrap. The retrieve package does not use it: hybrid fusion,
// group_by, recommend and discover are methods of Store (see query.go).
func (s *Store) RawClient() *qdrant.Client { return s.client }

// Collections returns the configured Hansard and PQ collection names.
func (s *Store) Collections() (hansard, pq string) {
	return s.cfg.HansardContributionsCollection, s.cfg.ParliamentaryQuestionsCollection
}
