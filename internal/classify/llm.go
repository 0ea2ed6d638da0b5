package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boqmatch/internal/catalog"
	"boqmatch/internal/services/llm"
)

// completer is the JSON completion call, satisfied by *llm.Client.
type completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SectionPrompt is the system prompt of the model-backed classifier.
const SectionPrompt = `You classify construction bill-of-quantities line items into catalog sections.

You receive the list of valid section names and one normalized line item.
Pick the sections the item most likely belongs to, best first.
Only use section names from the list, spelled exactly as given.

Respond ONLY with JSON: {"sections": ["section", ...]}`

// LLM classifies with a chat completion model.
type LLM struct {
	client      completer
	maxSections int
}

// NewLLM builds a model-backed classifier.
func NewLLM(client completer, maxSections int) *LLM {
	if maxSections <= 0 {
		maxSections = 3
	}
	return &LLM{client: client, maxSections: maxSections}
}

// Name implements Classifier.
func (c *LLM) Name() string { return "llm" }

// Classify asks the model for sections. Sections the catalog does not know
// are discarded; an answer with none left is ErrNoSections.
func (c *LLM) Classify(ctx context.Context, snap *catalog.Snapshot, text string) ([]string, error) {
	if c.client == nil {
		return nil, errors.New("llm classify: no client")
	}
	if snap == nil || len(snap.Sections()) == 0 {
		return nil, ErrNoSections
	}
	var prompt strings.Builder
	prompt.WriteString("Sections:\n")
	for _, section := range snap.Sections() {
		prompt.WriteString("- ")
		prompt.WriteString(section)
		prompt.WriteByte('\n')
	}
	fmt.Fprintf(&prompt, "\nLine item: %s\nReturn at most %d sections.", text, c.maxSections)

	raw, err := c.client.CompleteJSON(ctx, SectionPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("llm classify: %w", err)
	}
	var reply struct {
		Sections []string `json:"sections"`
	}
	if err := llm.DecodeJSON(raw, &reply); err != nil {
		return nil, fmt.Errorf("llm classify: decode: %w", err)
	}
	for i := range reply.Sections {
		reply.Sections[i] = strings.TrimSpace(reply.Sections[i])
	}
	sections := restrict(snap, reply.Sections, c.maxSections)
	if len(sections) == 0 {
		return nil, ErrNoSections
	}
	return sections, nil
}
