// Package prompts renders the text/template prompts sent to the language models.
package prompts

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/memtensor/deepresearch/pkg/types"
)

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// Builder renders named prompt templates
type Builder struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewBuilder creates a builder with the default templates registered
func NewBuilder() (*Builder, error) {
	b := &Builder{templates: make(map[string]*template.Template)}
	for name, text := range Templates {
		if err := b.Register(name, text); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// MustBuilder is NewBuilder that panics on a template parse error
func MustBuilder() *Builder {
	b, err := NewBuilder()
	if err != nil {
		panic(err)
	}
	return b
}

// Register parses and stores a template, replacing any with the same name
func (b *Builder) Register(name, text string) error {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	b.mu.Lock()
	b.templates[name] = tmpl
	b.mu.Unlock()
	return nil
}

// Build renders a template with the given parameters
func (b *Builder) Build(name string, params map[string]interface{}) (string, error) {
	b.mu.RLock()
	tmpl, ok := b.templates[name]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template '%s' not found", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, params); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", name, err)
	}
	return sb.String(), nil
}

// GroundContext renders the context grounding prompt
func (b *Builder) GroundContext(context, prompt string) (types.MessageList, error) {
	return b.user(GroundContext, map[string]interface{}{"context": context, "prompt": prompt})
}

// Reasoning renders the rationale prompt
func (b *Builder) Reasoning(groundedContext, prompt string) (types.MessageList, error) {
	return b.user(Reasoning, map[string]interface{}{"grounded_context": groundedContext, "prompt": prompt})
}

// Answer renders the answer generation prompt
func (b *Builder) Answer(context, rationale, prompt string) (types.MessageList, error) {
	return b.user(AnswerGenerator, map[string]interface{}{
		"context":   context,
		"rationale": rationale,
		"prompt":    prompt,
	})
}

// Annotation renders the citation annotation prompt. Citations are numbered from 1.
func (b *Builder) Annotation(text string, citations []types.Citation) (types.MessageList, error) {
	return b.user(CitationAnnotation, map[string]interface{}{"text": text, "citations": citations})
}

func (b *Builder) user(name string, params map[string]interface{}) (types.MessageList, error) {
	content, err := b.Build(name, params)
	if err != nil {
		return nil, err
	}
	return types.UserMessage(content), nil
}
