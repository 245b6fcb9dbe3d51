// Package usageledger records one row per LLM gateway call to a Postgres
// table, independent of the live document store (SPEC_FULL.md §2.4). It is
// a side-channel for cost/latency accounting; a failed write never affects
// the caller's page-generation path.
package usageledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS llm_usage (
	id               BIGSERIAL PRIMARY KEY,
	book_id          TEXT NOT NULL,
	tag              TEXT NOT NULL,
	model            TEXT NOT NULL,
	reasoning_effort TEXT NOT NULL,
	prompt_tokens    INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	duration_ms      BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSQL = `
INSERT INTO llm_usage (book_id, tag, model, reasoning_effort, prompt_tokens, completion_tokens, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Ledger writes usage rows against a pgx pool. The zero value with a nil
// pool is a valid no-op ledger, used when ANALYTICS_DATABASE_URL is unset.
type Ledger struct {
	pool *pgxpool.Pool
}

// New connects to the analytics database and ensures the ledger table
// exists. dsn == "" returns a no-op ledger (feature is optional).
func New(ctx context.Context, dsn string) (*Ledger, error) {
	if dsn == "" {
		return &Ledger{}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &Ledger{pool: pool}, nil
}

func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Entry is one recorded Gateway call.
type Entry struct {
	BookID          string
	Tag             string
	Model           string
	ReasoningEffort string
	PromptTokens    int
	CompletionTokens int
	Duration        time.Duration
}

// Record inserts a usage row, fire-and-forget: errors are logged, never
// returned, so a ledger outage never interrupts story generation.
func (l *Ledger) Record(ctx context.Context, e Entry) {
	if l.pool == nil {
		return
	}
	_, err := l.pool.Exec(ctx, insertSQL,
		e.BookID, e.Tag, e.Model, e.ReasoningEffort,
		e.PromptTokens, e.CompletionTokens, e.Duration.Milliseconds(),
	)
	if err != nil {
		slog.WarnContext(ctx, "usage ledger write failed", "book_id", e.BookID, "tag", e.Tag, "error", err)
	}
}
