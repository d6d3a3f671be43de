package search

import (
	"strconv"

	"github.com/memtensor/deepresearch/pkg/types"
)

// BuildCorpus flattens memories and conversation turns into one ranking
// corpus. Memories come first, both groups keep their input order.
func BuildCorpus(memories []*types.MemoryRecord, turns []types.ConversationTurn) []types.Document {
	corpus := make([]types.Document, 0, len(memories)+len(turns))

	for _, m := range memories {
		if m == nil {
			continue
		}
		corpus = append(corpus, types.Document{
			Text:   m.Memory,
			Type:   types.DocumentTypeMemory,
			Ref:    m.ID,
			Index:  len(corpus),
			Memory: m,
		})
	}

	for i := range turns {
		turn := turns[i]
		corpus = append(corpus, types.Document{
			Text:  turn.Content,
			Type:  types.DocumentTypeConversation,
			Ref:   strconv.Itoa(i),
			Index: len(corpus),
			Turn:  &turn,
		})
	}

	return corpus
}
