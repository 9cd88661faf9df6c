// Package ledger persists SpendRecord rows to Postgres via pgx, indexed
// by (api-key, start-time), (team, start-time), (user, start-time),
// (model, start-time), with a tag-array index.
//
// Writes are asynchronous on the success path via a buffered-channel
// batch writer: a failed batch is queued for local retry rather than
// failing the request that produced it.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/corewave-ai/litegate/internal/model"
)

// Ledger writes SpendRecord rows to Postgres asynchronously via a
// buffered channel, retrying failed batches locally.
type Ledger struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	ch     chan model.SpendRecord
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []model.SpendRecord // records that failed to write, retried on the next drain tick
}

// New creates a Ledger backed by pool, with the given buffered-channel
// capacity.
func New(pool *pgxpool.Pool, logger zerolog.Logger, bufferSize int) *Ledger {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	l := &Ledger{
		pool:   pool,
		logger: logger.With().Str("component", "ledger").Logger(),
		ch:     make(chan model.SpendRecord, bufferSize),
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// Append queues a SpendRecord for asynchronous persistence. Never blocks
// the caller and never fails the request — a full buffer drops the
// record with a logged warning.
func (l *Ledger) Append(record model.SpendRecord) {
	select {
	case l.ch <- record:
	default:
		l.logger.Warn().Str("request_id", record.RequestID).Msg("ledger buffer full, dropping spend record")
	}
}

func (l *Ledger) drain() {
	defer l.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	batch := make([]model.SpendRecord, 0, 256)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.writeBatch(ctx, batch); err != nil {
			l.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("ledger batch write failed, will retry")
			l.mu.Lock()
			l.pending = append(l.pending, batch...)
			l.mu.Unlock()
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-l.ch:
			if !ok {
				flush()
				l.retryPending()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= 256 {
				flush()
			}
		case <-ticker.C:
			flush()
			l.retryPending()
		}
	}
}

func (l *Ledger) retryPending() {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	retry := l.pending
	l.pending = nil
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.writeBatch(ctx, retry); err != nil {
		l.mu.Lock()
		l.pending = append(l.pending, retry...)
		l.mu.Unlock()
	}
}

func (l *Ledger) writeBatch(ctx context.Context, records []model.SpendRecord) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertSQL,
			r.RequestID, r.KeyID, r.UserID, r.TeamID, r.OrgID, r.Model,
			r.PromptTokens, r.CompletionTokens, r.CostUSD, r.CacheHit,
			r.StartTime, r.EndTime, r.Tags)
	}
	return l.pool.SendBatch(ctx, batch).Close()
}

const insertSQL = `
INSERT INTO spend_records
	(request_id, key_id, user_id, team_id, org_id, model,
	 prompt_tokens, completion_tokens, cost_usd, cache_hit,
	 start_time, end_time, tags)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (request_id) DO NOTHING
`

// Close flushes pending records and stops the drain goroutine.
func (l *Ledger) Close() {
	close(l.ch)
	l.wg.Wait()
}
