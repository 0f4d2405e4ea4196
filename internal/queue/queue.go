// Package queue implements the durable "training" queue (SPEC_FULL.md §6):
// a Postgres-backed FIFO of job_id tokens using SELECT ... FOR UPDATE SKIP
// LOCKED for at-least-once dequeue without a separate broker. Grounded on
// the pgx pool pattern adopted from NitinKhare-trader for internal/store.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-desktop/training-core/pkg/errs"
)

// ErrEmpty is returned by Dequeue when no visible token is available.
var ErrEmpty = errors.New("queue: empty")

// Queue is one named durable queue backed by the training_queue table.
type Queue struct {
	pool              *pgxpool.Pool
	name              string
	visibilityTimeout time.Duration
	failedRetention   time.Duration
}

// Config parameterizes New.
type Config struct {
	Name              string
	VisibilityTimeout time.Duration
	FailedRetention   time.Duration
}

func New(pool *pgxpool.Pool, cfg Config) *Queue {
	return &Queue{
		pool:              pool,
		name:              cfg.Name,
		visibilityTimeout: cfg.VisibilityTimeout,
		failedRetention:   cfg.FailedRetention,
	}
}

// Enqueue inserts a new token for jobID. Payloads never live in the queue
// itself — only the reference — so a crash between enqueue and worker pickup
// loses nothing the job store doesn't already have durably.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	const sql = `
		INSERT INTO training_queue (queue_name, job_id, state, enqueued_at)
		VALUES ($1, $2, 'visible', now())`
	_, err := q.pool.Exec(ctx, sql, q.name, jobID)
	if err != nil {
		return &errs.SystemError{Component: "queue.Enqueue", Cause: err}
	}
	return nil
}

// Token is one claimed queue entry; the worker must Ack or Nack it.
type Token struct {
	ID    int64
	JobID string
}

// Dequeue claims one visible token with SELECT FOR UPDATE SKIP LOCKED,
// marking it in-flight for VisibilityTimeout. Returns ErrEmpty if nothing
// is currently claimable (the caller's worker loop blocks by polling this
// on an interval per SPEC_FULL.md §5's "block on dequeue" step, since
// Postgres has no native long-poll primitive here).
func (q *Queue) Dequeue(ctx context.Context) (Token, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return Token{}, &errs.SystemError{Component: "queue.Dequeue", Cause: err}
	}
	defer tx.Rollback(ctx)

	const selectSQL = `
		SELECT id, job_id FROM training_queue
		WHERE queue_name = $1
		  AND (state = 'visible' OR (state = 'in_flight' AND visible_at < now()))
		ORDER BY enqueued_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var tok Token
	row := tx.QueryRow(ctx, selectSQL, q.name)
	if err := row.Scan(&tok.ID, &tok.JobID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrEmpty
		}
		return Token{}, &errs.SystemError{Component: "queue.Dequeue", Cause: err}
	}

	const claimSQL = `
		UPDATE training_queue
		SET state = 'in_flight', visible_at = now() + $2
		WHERE id = $1`
	if _, err := tx.Exec(ctx, claimSQL, tok.ID, q.visibilityTimeout); err != nil {
		return Token{}, &errs.SystemError{Component: "queue.Dequeue", Cause: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return Token{}, &errs.SystemError{Component: "queue.Dequeue", Cause: err}
	}
	return tok, nil
}

// Ack removes a successfully processed token.
func (q *Queue) Ack(ctx context.Context, tok Token) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM training_queue WHERE id = $1`, tok.ID)
	if err != nil {
		return &errs.SystemError{Component: "queue.Ack", Cause: err}
	}
	return nil
}

// Nack moves a token to the failed collection instead of redelivering it,
// used when the worker determines the failure is not transient (e.g. the
// job itself transitioned to FAILED rather than the dequeue being lost).
func (q *Queue) Nack(ctx context.Context, tok Token) error {
	const sql = `
		UPDATE training_queue
		SET state = 'failed', failed_at = now()
		WHERE id = $1`
	_, err := q.pool.Exec(ctx, sql, tok.ID)
	if err != nil {
		return &errs.SystemError{Component: "queue.Nack", Cause: err}
	}
	return nil
}

// CancelToken marks any queue entry for jobID as cancelled, so a dispatched
// token is dropped by whichever worker next observes it (step 2 of the
// cancellation path: "best-effort, the broker may already have dispatched
// it").
func (q *Queue) CancelToken(ctx context.Context, jobID string) error {
	const sql = `
		UPDATE training_queue
		SET state = 'cancelled'
		WHERE queue_name = $1 AND job_id = $2 AND state IN ('visible', 'in_flight')`
	_, err := q.pool.Exec(ctx, sql, q.name, jobID)
	if err != nil {
		return &errs.SystemError{Component: "queue.CancelToken", Cause: err}
	}
	return nil
}

// PurgeFailed deletes failed entries older than FailedRetention, the
// "separate failed collection with configurable retention" requirement.
func (q *Queue) PurgeFailed(ctx context.Context) (int, error) {
	const sql = `
		DELETE FROM training_queue
		WHERE queue_name = $1 AND state = 'failed' AND failed_at < now() - $2::interval`
	tag, err := q.pool.Exec(ctx, sql, q.name, q.failedRetention)
	if err != nil {
		return 0, &errs.SystemError{Component: "queue.PurgeFailed", Cause: err}
	}
	return int(tag.RowsAffected()), nil
}

// Depth reports the number of visible+in_flight tokens, exported as the
// trainer_queue_depth gauge by internal/metrics.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	const sql = `
		SELECT count(*) FROM training_queue
		WHERE queue_name = $1 AND state IN ('visible', 'in_flight')`
	var n int
	if err := q.pool.QueryRow(ctx, sql, q.name).Scan(&n); err != nil {
		return 0, &errs.SystemError{Component: "queue.Depth", Cause: err}
	}
	return n, nil
}
