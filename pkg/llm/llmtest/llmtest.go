// Package llmtest provides in-process language models for tests
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/types"
)

var _ interfaces.LLM = (*ScriptedLLM)(nil)

// ScriptedLLM is an in-process LLM that answers from a function
type ScriptedLLM struct {
	// Respond produces the full reply for a request
	Respond func(messages types.MessageList) (string, error)

	// StreamFailAfter makes GenerateStream fail after that many fragments
	// when positive
	StreamFailAfter int

	mu    sync.Mutex
	calls []types.MessageList
}

// NewScriptedLLM answers every request with reply
func NewScriptedLLM(reply string) *ScriptedLLM {
	return &ScriptedLLM{
		Respond: func(types.MessageList) (string, error) { return reply, nil },
	}
}

// NewFailingLLM fails every request with err
func NewFailingLLM(err error) *ScriptedLLM {
	return &ScriptedLLM{
		Respond: func(types.MessageList) (string, error) { return "", err },
	}
}

func (s *ScriptedLLM) record(messages types.MessageList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
}

// Calls returns the requests received so far
func (s *ScriptedLLM) Calls() []types.MessageList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MessageList(nil), s.calls...)
}

// Generate returns the scripted reply
func (s *ScriptedLLM) Generate(ctx context.Context, messages types.MessageList) (string, error) {
	s.record(messages)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Respond(messages)
}

// GenerateStream emits the scripted reply word by word, keeping separators
func (s *ScriptedLLM) GenerateStream(ctx context.Context, messages types.MessageList, stream chan<- string) error {
	s.record(messages)
	reply, err := s.Respond(messages)
	if err != nil {
		return err
	}

	for i, fragment := range SplitFragments(reply) {
		if s.StreamFailAfter > 0 && i >= s.StreamFailAfter {
			return fmt.Errorf("stream interrupted after %d fragments", i)
		}
		select {
		case stream <- fragment:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Embed returns a deterministic vector derived from the text length
func (s *ScriptedLLM) Embed(ctx context.Context, text string) (types.EmbeddingVector, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	return types.EmbeddingVector{float32(len(text)), 1}, nil
}

// GetModelInfo returns model information
func (s *ScriptedLLM) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": "scripted"}
}

// Close is a no-op
func (s *ScriptedLLM) Close() error { return nil }

// SplitFragments splits text into word fragments whose concatenation is text
func SplitFragments(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
