package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/bookforge/internal/llm"
	"github.com/rendis/bookforge/pkg/schema"
)

// LibSQLCheckpointStore keeps checkpoints and transcripts in an embedded libSQL database.
type LibSQLCheckpointStore struct {
	db    *sql.DB
	codec codec
}

var (
	_ CheckpointStore    = (*LibSQLCheckpointStore)(nil)
	_ llm.TranscriptSink = (*LibSQLCheckpointStore)(nil)
)

// NewLibSQLCheckpointStore opens the database at dbPath, a file URI such as
// "file:/var/lib/bookforge/checkpoints.db". Call Migrate before use.
func NewLibSQLCheckpointStore(dbPath string, logger *slog.Logger) (*LibSQLCheckpointStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLCheckpointStore{db: db, codec: newCodec(logger)}, nil
}

// Close closes the database.
func (s *LibSQLCheckpointStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLCheckpointStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *LibSQLCheckpointStore) Load(ctx context.Context, key string) (*schema.PipelineState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("load", key, err)
	}
	return s.codec.decode(ctx, key, []byte(raw)), nil
}

func (s *LibSQLCheckpointStore) Save(ctx context.Context, key string, st *schema.PipelineState) error {
	raw, err := s.codec.encode(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (key, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		key, string(raw), st.UpdatedAt.UTC(),
	)
	if err != nil {
		return storeError("save", key, err)
	}
	return nil
}

// Clear removes the checkpoint and the session's transcript.
func (s *LibSQLCheckpointStore) Clear(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("clear", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE key = ?`, key); err != nil {
		_ = tx.Rollback()
		return storeError("clear", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE session_id = ?`, key); err != nil {
		_ = tx.Rollback()
		return storeError("clear", key, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("clear", key, err)
	}
	return nil
}

func (s *LibSQLCheckpointStore) List(ctx context.Context) ([]CheckpointInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, updated_at FROM checkpoints ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var info CheckpointInfo
		if err := rows.Scan(&info.Key, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// AppendExchange records one exchange at the end of the session's transcript.
func (s *LibSQLCheckpointStore) AppendExchange(ctx context.Context, sessionID string, ex llm.Exchange) error {
	at := ex.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, seq, prompt, reply, at)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM transcripts WHERE session_id = ?`,
		sessionID, ex.Prompt, ex.Reply, at.UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("append transcript exchange: %w", err)
	}
	return nil
}

// Transcript returns a session's exchanges in the order they were recorded.
func (s *LibSQLCheckpointStore) Transcript(ctx context.Context, sessionID string) ([]llm.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt, reply, at FROM transcripts WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	defer rows.Close()

	var out []llm.Exchange
	for rows.Next() {
		var ex llm.Exchange
		if err := rows.Scan(&ex.Prompt, &ex.Reply, &ex.At); err != nil {
			return nil, fmt.Errorf("scan transcript exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Vacuum reclaims space after the janitor deletes rows.
func (s *LibSQLCheckpointStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}
