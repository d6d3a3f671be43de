// Package grounding formats retrieved memories and conversation turns into a
// context block and narrows it to what is relevant for a prompt.
package grounding

import (
	"fmt"
	"strings"

	"github.com/memtensor/deepresearch/pkg/types"
)

const (
	conversationsHeader = "*Past Conversations:*"
	memoriesHeader      = "*Relevant Memories (Hybrid Search):*"
)

// emptyContext is what FormatContext produces with nothing to format
var emptyContext = FormatContext(nil, nil)

// FormatContext renders turns and memories into the context block passed to
// the models. Turns are numbered by their position in turns.
func FormatContext(memories []*types.MemoryRecord, turns []types.ConversationTurn) string {
	memLines := make([]string, 0, len(memories))
	for _, m := range memories {
		if m == nil {
			continue
		}
		memLines = append(memLines, fmt.Sprintf("Memory: %s\n[ref: %s, timestamp: %s]", m.Memory, m.ID, m.Timestamp()))
	}

	turnLines := make([]string, 0, len(turns))
	for i, turn := range turns {
		turnLines = append(turnLines, fmt.Sprintf("Message Index: %d\nTimestamp: %s\n%s", i, turn.Timestamp, turn.Content))
	}

	return conversationsHeader + "\n" + strings.Join(turnLines, "\n") +
		"\n\n" + memoriesHeader + "\n" + strings.Join(memLines, "\n") + "\n"
}

// IsEmptyContext reports whether a formatted context carries no items
func IsEmptyContext(context string) bool {
	return strings.TrimSpace(context) == "" || context == emptyContext
}
