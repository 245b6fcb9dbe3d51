// Package llmtest provides a hand-rolled llm.Gateway test double shared
// across the engine's test suites, following the teacher's own style of
// defining small mock structs against an interface directly inside its
// test files (e.g. internal/brain/context_builder_test.go's
// mockIntegrationStore) — factored into one place here since several
// packages (branchcache, verifier) need the same kind of scriptable fake.
package llmtest

import (
	"context"
	"sync"

	"taleforge.dev/engine/internal/llm"
)

// Fake answers Chat with a canned response keyed by Options.Tag, and counts
// calls per tag so specs can assert exactly how many generations happened.
type Fake struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

// New builds a Fake. responses maps a call's Tag to the raw JSON it should
// return; a tag with no entry gets "{}".
func New(responses map[string]string) *Fake {
	return &Fake{responses: responses, calls: map[string]int{}}
}

func (f *Fake) Chat(_ context.Context, _, _ string, opts llm.Options) (string, *llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[opts.Tag]++
	resp, ok := f.responses[opts.Tag]
	if !ok {
		resp = "{}"
	}
	return resp, &llm.Usage{PromptTokens: 1, CompletionTokens: 1}, nil
}

// CallCount reports how many Chat calls carried the given tag.
func (f *Fake) CallCount(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tag]
}
