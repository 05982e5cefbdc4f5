package sessionlog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
)

// LogWriter writes each record as a structured log line.
type LogWriter struct {
	logger Logger
}

func NewLogWriter(log Logger) *LogWriter {
	return &LogWriter{logger: log}
}

func (w *LogWriter) Name() string { return "log" }

func (w *LogWriter) Write(_ context.Context, r Record) error {
	w.logger.Info("conversation turn", map[string]interface{}{
		"sessionId":  r.SessionID,
		"turn":       r.Turn,
		"intent":     r.Intent,
		"resolution": r.Resolution,
		"state":      r.State,
		"directive":  r.Directive,
		"failure":    r.Failure,
		"action":     r.Action,
		"totalCents": r.Total,
	})
	return nil
}

// PostgresWriter appends records to the conversation_turns table.
type PostgresWriter struct {
	db *sql.DB
}

func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

func (w *PostgresWriter) Name() string { return "postgres" }

func (w *PostgresWriter) Write(ctx context.Context, r Record) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (
			session_id, turn_index, intent_kind, resolution, state,
			directive, failure, action, total_cents, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		r.SessionID, r.Turn, r.Intent, nullable(r.Resolution), r.State,
		r.Directive, nullable(r.Failure), nullable(r.Action), r.Total, r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ElasticsearchWriter indexes records for turn analytics.
type ElasticsearchWriter struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchWriter(client *elasticsearch.Client, index string) *ElasticsearchWriter {
	return &ElasticsearchWriter{client: client, index: index}
}

func (w *ElasticsearchWriter) Name() string { return "elasticsearch" }

func (w *ElasticsearchWriter) Write(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	res, err := w.client.Index(
		w.index,
		bytes.NewReader(body),
		w.client.Index.WithContext(ctx),
		w.client.Index.WithDocumentID(fmt.Sprintf("%s-%d", r.SessionID, r.Turn)),
	)
	if err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index record: %s", res.Status())
	}
	return nil
}
