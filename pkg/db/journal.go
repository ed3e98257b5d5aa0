package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/rtbus/pkg/events"
)

const journalLogPrefix = "db:journal"

// RequestRecord is one row of the request journal.
type RequestRecord struct {
	ID            int64     `db:"id" json:"id"`
	Dispatcher    string    `db:"dispatcher" json:"dispatcher"`
	SyncID        string    `db:"sync_id" json:"syncId"`
	CorrelationID string    `db:"correlation_id" json:"correlationId"`
	PayloadKind   string    `db:"payload_kind" json:"payloadKind"`
	Action        string    `db:"action" json:"action"`
	Destination   string    `db:"destination" json:"destination"`
	Status        string    `db:"status" json:"status"`
	ErrorCode     string    `db:"error_code" json:"errorCode"`
	Local         bool      `db:"local" json:"local"`
	Forwarded     bool      `db:"forwarded" json:"forwarded"`
	DurationMs    int64     `db:"duration_ms" json:"durationMs"`
	CompletedAt   time.Time `db:"completed_at" json:"completedAt"`
}

const journalColumns = `id, dispatcher, sync_id, correlation_id, payload_kind, action, destination,
	status, error_code, local, forwarded, duration_ms, completed_at`

// JournalRepository persists request outcomes. It implements
// events.RequestStore.
type JournalRepository struct {
	pool *pgxpool.Pool
}

// NewJournalRepository creates a new JournalRepository.
func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

// InsertRequest appends one request outcome.
func (r *JournalRepository) InsertRequest(ctx context.Context, e *events.RequestCompletedEvent) error {
	completedAt, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		completedAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO request_journal
		   (dispatcher, sync_id, correlation_id, payload_kind, action, destination,
		    status, error_code, local, forwarded, duration_ms, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.Dispatcher, e.SyncID, e.CorrelationID, e.PayloadKind, e.Action, e.Destination,
		e.Status, e.ErrorCode, e.Local, e.Forwarded, e.DurationMs, completedAt)
	if err != nil {
		return fmt.Errorf("%s - insert failed: %w", journalLogPrefix, err)
	}
	return nil
}

// ListRequestsParams filters ListRequests. Empty fields do not filter.
type ListRequestsParams struct {
	Dispatcher    string
	CorrelationID string
	Status        string
	Limit         int
}

// ListRequests returns journal rows, newest first.
func (r *JournalRepository) ListRequests(ctx context.Context, params ListRequestsParams) ([]RequestRecord, error) {
	query, args := buildListQuery(params)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - list failed: %w", journalLogPrefix, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[RequestRecord])
	if err != nil {
		return nil, fmt.Errorf("%s - scan failed: %w", journalLogPrefix, err)
	}
	return records, nil
}

const defaultListLimit = 100

func buildListQuery(params ListRequestsParams) (string, []any) {
	var where []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("dispatcher", params.Dispatcher)
	add("correlation_id", params.CorrelationID)
	add("status", params.Status)

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString("SELECT " + journalColumns + " FROM request_journal")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY completed_at DESC, id DESC LIMIT $%d", len(args))
	return b.String(), args
}

// PruneRequests deletes rows completed before the cutoff and returns how many
// were removed.
func (r *JournalRepository) PruneRequests(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM request_journal WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", journalLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Pruned %d journal rows before %s", journalLogPrefix, tag.RowsAffected(), before.Format(time.RFC3339)))
	return tag.RowsAffected(), nil
}

// ClearJournal truncates the journal. The schema is preserved.
func (r *JournalRepository) ClearJournal(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE request_journal RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", journalLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Journal cleared", journalLogPrefix))
	return nil
}
