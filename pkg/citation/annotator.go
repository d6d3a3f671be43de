package citation

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/prompts"
	"github.com/memtensor/deepresearch/pkg/types"
)

const citationAttr = "data-citation"

var (
	markerPattern = regexp.MustCompile(`\[(\d+)\]`)
	fencePattern  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")

	// plain renders untrusted text, raw HTML is omitted
	plain = goldmark.New()

	// annotated keeps the inline markup produced by the model, it is
	// sanitized afterwards
	annotated = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))

	allowedTags = map[string]bool{
		"p": true, "br": true, "strong": true, "em": true, "b": true, "i": true,
		"ul": true, "ol": true, "li": true, "code": true, "pre": true,
		"blockquote": true, "h1": true, "h2": true, "h3": true, "h4": true,
		"h5": true, "h6": true, "hr": true, "cite": true,
	}
	droppedTags = "script, style, iframe, object, embed, form, input, textarea, link, meta"
)

// Annotator asks a model to wrap supported phrases in
// <cite data-citation="N"> tags and sanitizes the result
type Annotator struct {
	llm     interfaces.LLM
	prompts *prompts.Builder
	logger  interfaces.Logger
}

// NewAnnotator creates an annotator
func NewAnnotator(llm interfaces.LLM, builder *prompts.Builder, logger interfaces.Logger) *Annotator {
	if builder == nil {
		builder = prompts.MustBuilder()
	}
	return &Annotator{llm: llm, prompts: builder, logger: logger}
}

// Annotate returns HTML for text with citation markup. It falls back to a
// plain rendering of text when there is nothing to cite or the model fails.
func (a *Annotator) Annotate(ctx context.Context, text string, citations []types.Citation) string {
	if len(citations) == 0 || strings.TrimSpace(text) == "" {
		return RenderHTML(text)
	}

	msgs, err := a.prompts.Annotation(text, citations)
	if err != nil {
		a.warn("Failed to build annotation prompt", err)
		return RenderHTML(text)
	}

	out, err := a.llm.Generate(ctx, msgs)
	if err != nil {
		a.warn("Citation annotation failed", err)
		return RenderHTML(text)
	}
	if strings.TrimSpace(out) == "" {
		return RenderHTML(text)
	}

	cleaned, err := Sanitize(out, len(citations))
	if err != nil {
		a.warn("Failed to sanitize annotated text", err)
		return RenderHTML(text)
	}
	return cleaned
}

func (a *Annotator) warn(msg string, err error) {
	if a.logger != nil {
		a.logger.Warn(msg, map[string]interface{}{"error": err.Error()})
	}
}

// RenderHTML renders markdown text to HTML, dropping raw HTML
func RenderHTML(text string) string {
	var buf bytes.Buffer
	if err := plain.Convert([]byte(text), &buf); err != nil {
		return text
	}
	return buf.String()
}

// Sanitize normalizes model output into HTML whose only citation markup is
// <cite data-citation="N"> with 1 <= N <= count. Bracket markers are turned
// into cite tags, out of range or nested cite tags are unwrapped, unknown
// elements are unwrapped and attributes other than data-citation are removed.
func Sanitize(raw string, count int) (string, error) {
	raw = strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}

	raw = markerPattern.ReplaceAllStringFunc(raw, func(marker string) string {
		n, _ := strconv.Atoi(marker[1 : len(marker)-1])
		if n < 1 || n > count {
			return marker
		}
		return `<cite data-citation="` + strconv.Itoa(n) + `">` + marker + `</cite>`
	})

	var buf bytes.Buffer
	if err := annotated.Convert([]byte(raw), &buf); err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return "", err
	}
	body := doc.Find("body")
	body.Find(droppedTags).Remove()

	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		if !allowedTags[name] || (name == "cite" && !validCitation(s, count)) {
			s.ReplaceWithSelection(s.Contents())
			return
		}

		node := s.Get(0)
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			if name == "cite" && attr.Key == citationAttr {
				kept = append(kept, attr)
			}
		}
		node.Attr = kept
	})
	body.Find("cite cite").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithSelection(s.Contents())
	})

	return body.Html()
}

func validCitation(s *goquery.Selection, count int) bool {
	val, ok := s.Attr(citationAttr)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	return err == nil && n >= 1 && n <= count
}
