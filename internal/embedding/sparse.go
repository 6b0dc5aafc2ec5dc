package embedding

import (
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/twmb/murmur3"
)

// SparseVector is a sparse embedding: parallel index/value arrays, the shape
// Qdrant's sparse vector fields expect.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// sparseDimensions bounds the hash space a token's index is drawn from. It
// has nothing to do with corpus size: it only needs to be large enough that
// distinct tokens rarely collide, since ingest-time and query-time embedders
// never share state and must still agree on a token's dimension.
const sparseDimensions = 1 << 20

// tokenDimension derives a token's sparse vector index from a murmur3 hash
// of its bytes. Hashing, rather than assigning indices in vocabulary
// insertion order, is what lets an ingest-time SparseEmbedder and a
// query-time SparseEmbedder, which never observe each other's documents,
// land the same token on the same dimension.
func tokenDimension(tok string) uint32 {
	return murmur3.Sum32([]byte(tok)) % sparseDimensions
}

// SparseEmbedder computes BM25-style sparse vectors locally. No sparse
// embedding library exists anywhere in the example pack's dependency set, so
// the TF/IDF scoring itself is a deliberate hand-rolled exception (see
// DESIGN.md): term frequency saturation plus inverse document frequency, the
// same scoring family as the upstream's fastembed BM25 model, without
// requiring a model download. Dimension assignment is not hand-rolled: it's
// a stable hash, the same approach fastembed's BM25 takes with murmurhash.
type SparseEmbedder struct {
	k1, b float64

	mu        sync.Mutex
	docFreq   map[string]int
	docCount  int
	avgDocLen float64
	totalLen  int
}

// NewSparseEmbedder builds a SparseEmbedder with BM25's conventional k1=1.2, b=0.75.
func NewSparseEmbedder() *SparseEmbedder {
	return &SparseEmbedder{
		k1:      1.2,
		b:       0.75,
		docFreq: map[string]int{},
	}
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Observe folds a corpus document into the IDF statistics. Call this for
// every chunk text before calling Embed on any of them, so IDF reflects the
// whole batch being indexed.
func (s *SparseEmbedder) Observe(text string) {
	tokens := tokenize(text)
	seen := map[string]struct{}{}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docCount++
	s.totalLen += len(tokens)
	for _, tok := range tokens {
		if _, dup := seen[tok]; !dup {
			seen[tok] = struct{}{}
			s.docFreq[tok]++
		}
	}
	if s.docCount > 0 {
		s.avgDocLen = float64(s.totalLen) / float64(s.docCount)
	}
}

// Embed computes the sparse BM25 vector for text given the IDF statistics
// accumulated so far via Observe. Dimension assignment needs no statistics
// at all: a freshly constructed SparseEmbedder that has never seen a single
// document still maps a given token to the same dimension every other
// instance would, so ingest and query vectors always share an index space.
func (s *SparseEmbedder) Embed(text string) SparseVector {
	tokens := tokenize(text)
	termFreq := map[string]int{}
	for _, tok := range tokens {
		termFreq[tok]++
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docLen := float64(len(tokens))
	avgLen := s.avgDocLen
	if avgLen == 0 {
		avgLen = docLen
	}
	if avgLen == 0 {
		avgLen = 1
	}

	var indices []uint32
	var values []float32
	for tok, freq := range termFreq {
		df := s.docFreq[tok]
		if df == 0 {
			df = 1
		}
		n := s.docCount
		if n == 0 {
			n = 1
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		tf := float64(freq)
		score := idf * (tf * (s.k1 + 1)) / (tf + s.k1*(1-s.b+s.b*docLen/avgLen))
		if score <= 0 {
			continue
		}
		indices = append(indices, tokenDimension(tok))
		values = append(values, float32(score))
	}
	return SparseVector{Indices: indices, Values: values}
}
