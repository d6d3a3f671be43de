// Package search ranks memories and conversation turns against a query with
// BM25 Okapi over an in-memory corpus.
package search

import (
	"math"
	"sort"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Default BM25 Okapi parameters
const (
	DefaultK1      = 1.5
	DefaultB       = 0.75
	DefaultEpsilon = 0.25
)

// Ranker scores documents with BM25 Okapi
type Ranker struct {
	K1      float64
	B       float64
	Epsilon float64
}

// DefaultRanker returns a ranker with the default parameters
func DefaultRanker() *Ranker {
	return &Ranker{K1: DefaultK1, B: DefaultB, Epsilon: DefaultEpsilon}
}

// NewRanker builds a ranker from retrieval configuration, falling back to
// the defaults for unset values.
func NewRanker(cfg config.RetrievalConfig) *Ranker {
	r := DefaultRanker()
	if cfg.K1 > 0 {
		r.K1 = cfg.K1
	}
	if cfg.B > 0 {
		r.B = cfg.B
	}
	if cfg.Epsilon > 0 {
		r.Epsilon = cfg.Epsilon
	}
	return r
}

// index holds the per-corpus statistics
type index struct {
	docFreqs []map[string]int
	docLens  []float64
	avgDL    float64
	idf      map[string]float64
}

func (r *Ranker) buildIndex(corpus []types.Document) *index {
	idx := &index{
		docFreqs: make([]map[string]int, len(corpus)),
		docLens:  make([]float64, len(corpus)),
		idf:      make(map[string]float64),
	}

	nd := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		tokens := Tokenize(doc.Text)
		total += len(tokens)
		idx.docLens[i] = float64(len(tokens))

		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		idx.docFreqs[i] = freqs
		for tok := range freqs {
			nd[tok]++
		}
	}
	idx.avgDL = float64(total) / float64(len(corpus))

	// Terms present in more than half the corpus get a negative idf, which
	// is replaced by epsilon times the average idf.
	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for tok, freq := range nd {
		idf := math.Log(n-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		idx.idf[tok] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, tok)
		}
	}
	if len(nd) > 0 {
		eps := r.Epsilon * idfSum / float64(len(nd))
		for _, tok := range negative {
			idx.idf[tok] = eps
		}
	}

	return idx
}

func (r *Ranker) scores(idx *index, query []string) []float64 {
	out := make([]float64, len(idx.docFreqs))
	for _, q := range query {
		idf, ok := idx.idf[q]
		if !ok {
			continue
		}
		for i, freqs := range idx.docFreqs {
			tf := float64(freqs[q])
			if tf == 0 {
				continue
			}
			norm := 1 - r.B
			if idx.avgDL > 0 {
				norm += r.B * idx.docLens[i] / idx.avgDL
			}
			out[i] += idf * (tf * (r.K1 + 1)) / (tf + r.K1*norm)
		}
	}
	return out
}

// Rank scores every corpus document against query and returns the topN best,
// highest score first. Ties keep corpus order.
func (r *Ranker) Rank(query string, corpus []types.Document, topN int) []types.RankedDocument {
	if len(corpus) == 0 || topN <= 0 {
		return []types.RankedDocument{}
	}

	scores := r.scores(r.buildIndex(corpus), Tokenize(query))

	ranked := make([]types.RankedDocument, len(corpus))
	for i, doc := range corpus {
		ranked[i] = types.RankedDocument{Document: doc, Score: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topN < len(ranked) {
		ranked = ranked[:topN]
	}
	return ranked
}

// HybridSearch ranks memories and conversation turns together
func (r *Ranker) HybridSearch(query string, memories []*types.MemoryRecord, turns []types.ConversationTurn, topN int) []types.RankedDocument {
	return r.Rank(query, BuildCorpus(memories, turns), topN)
}

// RankMemories ranks memories only and returns the records in rank order
func (r *Ranker) RankMemories(query string, memories []*types.MemoryRecord, topN int) []*types.MemoryRecord {
	mems, _ := SplitRanked(r.Rank(query, BuildCorpus(memories, nil), topN))
	return mems
}

// RankTurns ranks conversation turns only and returns them in rank order
func (r *Ranker) RankTurns(query string, turns []types.ConversationTurn, topN int) []types.ConversationTurn {
	_, out := SplitRanked(r.Rank(query, BuildCorpus(nil, turns), topN))
	return out
}

// SplitRanked partitions ranked documents by type, keeping rank order
func SplitRanked(ranked []types.RankedDocument) ([]*types.MemoryRecord, []types.ConversationTurn) {
	memories := make([]*types.MemoryRecord, 0, len(ranked))
	turns := make([]types.ConversationTurn, 0, len(ranked))
	for _, doc := range ranked {
		switch doc.Type {
		case types.DocumentTypeMemory:
			if doc.Memory != nil {
				memories = append(memories, doc.Memory)
			}
		case types.DocumentTypeConversation:
			if doc.Turn != nil {
				turns = append(turns, *doc.Turn)
			}
		}
	}
	return memories, turns
}

// HybridSearch ranks with the default parameters
func HybridSearch(query string, memories []*types.MemoryRecord, turns []types.ConversationTurn, topN int) []types.RankedDocument {
	return DefaultRanker().HybridSearch(query, memories, turns, topN)
}
