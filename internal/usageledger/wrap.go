package usageledger

import (
	"context"
	"time"

	"taleforge.dev/engine/internal/llm"
)

// Wrap decorates a Gateway so every call is recorded to the ledger after
// the fact. A nil ledger (no pool) makes Record a no-op, so wrapping is
// always safe even when ANALYTICS_DATABASE_URL is unset.
func Wrap(gw llm.Gateway, ledger *Ledger) llm.Gateway {
	return &wrapped{gw: gw, ledger: ledger}
}

type wrapped struct {
	gw     llm.Gateway
	ledger *Ledger
}

func (w *wrapped) Chat(ctx context.Context, systemPrompt, userPrompt string, opts llm.Options) (string, *llm.Usage, error) {
	start := time.Now()
	raw, usage, err := w.gw.Chat(ctx, systemPrompt, userPrompt, opts)
	entry := Entry{
		BookID:          opts.BookID,
		Tag:             opts.Tag,
		Model:           opts.Model,
		ReasoningEffort: string(opts.ReasoningEffort),
		Duration:        time.Since(start),
	}
	if usage != nil {
		entry.PromptTokens = usage.PromptTokens
		entry.CompletionTokens = usage.CompletionTokens
	}
	w.ledger.Record(ctx, entry)
	return raw, usage, err
}
