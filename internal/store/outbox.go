package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/events"
)

func InsertOutboxEvent(ctx context.Context, q database.Querier, event events.Event) error {
	headers := event.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode event headers: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		event.AggregateType, event.AggregateID, event.Type, string(event.Payload), string(encoded),
		event.Traceparent, events.StatusPending)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// OutboxStore hands out outbox rows to relays. Claimed rows carry a lease so a
// crashed relay's batch is picked up again once the lease runs out.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]events.Event, error) {
	var batch []events.Event

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		batch = nil

		rows, err := tx.QueryContext(ctx,
			`SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, status, retry_count, last_error, created_at
			 FROM outbox
			 WHERE status = $1
			    OR (status = $2 AND lease_until < NOW())
			 ORDER BY id
			 LIMIT $3
			 FOR UPDATE SKIP LOCKED`,
			events.StatusPending, events.StatusInProgress, batchSize)
		if err != nil {
			return fmt.Errorf("select outbox batch: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				event     events.Event
				headers   []byte
				lastError sql.NullString
			)
			err := rows.Scan(
				&event.ID,
				&event.AggregateType,
				&event.AggregateID,
				&event.Type,
				&event.Payload,
				&headers,
				&event.Traceparent,
				&event.Status,
				&event.RetryCount,
				&lastError,
				&event.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("scan outbox event: %w", err)
			}
			if err := json.Unmarshal(headers, &event.Headers); err != nil {
				return fmt.Errorf("decode event headers: %w", err)
			}
			if lastError.Valid {
				msg := lastError.String
				event.LastError = &msg
			}
			batch = append(batch, event)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]int64, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
			batch[i].Status = events.StatusInProgress
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE outbox
			 SET status = $1, relay_id = $2, lease_until = NOW() + $3::DOUBLE PRECISION * INTERVAL '1 millisecond'
			 WHERE id = ANY($4)`,
			events.StatusInProgress, relayID, lease.Milliseconds(), pq.Array(ids))
		if err != nil {
			return fmt.Errorf("lease outbox batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return batch, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = $1, lease_until = NULL WHERE id = ANY($2)`,
		events.StatusSent, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed returns the event to the queue, or parks it as failed once it
// has been retried maxRetries times.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox
		 SET retry_count = retry_count + 1,
		     last_error = $1,
		     lease_until = NULL,
		     status = CASE WHEN retry_count + 1 >= $2 THEN $3::TEXT ELSE $4::TEXT END
		 WHERE id = $5`,
		errMsg, maxRetries, events.StatusFailed, events.StatusPending, id)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
