package database

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"drivethru-orchestrator/internal/common/config"
	apperrors "drivethru-orchestrator/internal/common/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Redis
// ==========================

func TestNewRedis_PingsMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRedis_RejectsEmptyAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.ErrorIs(t, err, ErrRedisAddressMissing)
}

func TestRedis_PingFailsWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	err = client.Ping(context.Background())
	require.Error(t, err)

	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDatabaseConnectionFail, stdErr.Code)
	assert.Contains(t, stdErr.Message, "redis")
}

// ==========================
// Postgres
// ==========================

func TestNewPostgres_OpensLazily(t *testing.T) {
	client, err := NewPostgres(config.PostgresConfig{
		Host: "localhost", Port: 5432, User: "u", Database: "d", SSLMode: "disable",
		MaxConnections: 2, MaxIdle: 1,
	})
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestPostgres_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS menu_items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	client := NewPostgresFromDB(db)
	require.NoError(t, client.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_EnsureSchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(assert.AnError)

	err = NewPostgresFromDB(db).EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
}

func TestSchema_DeclaresTurnLogColumns(t *testing.T) {
	for _, col := range []string{"session_id", "turn_index", "intent_kind", "total_cents", "created_at"} {
		assert.Contains(t, schemaSQL, col)
	}
}

// ==========================
// Elasticsearch
// ==========================

// fakeES answers like an Elasticsearch node; existing lists the indices that already exist.
type fakeES struct {
	mu       sync.Mutex
	existing map[string]bool
	created  []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	index := r.URL.Path[1:]
	switch r.Method {
	case http.MethodHead:
		if index == "" || f.existing[index] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case http.MethodPut:
		f.created = append(f.created, index)
		f.existing[index] = true
		w.Write([]byte(`{"acknowledged":true}`))
	default:
		w.Write([]byte(`{}`))
	}
}

func TestElasticsearch_Ping(t *testing.T) {
	srv := httptest.NewServer(&fakeES{existing: map[string]bool{}})
	defer srv.Close()

	client, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestElasticsearch_EnsureTurnIndex(t *testing.T) {
	tests := []struct {
		name        string
		existing    map[string]bool
		wantCreated []string
	}{
		{"creates missing index", map[string]bool{}, []string{"conversation-turns"}},
		{"leaves existing index", map[string]bool{"conversation-turns": true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := &fakeES{existing: tt.existing}
			srv := httptest.NewServer(es)
			defer srv.Close()

			client, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
			require.NoError(t, err)

			require.NoError(t, client.EnsureTurnIndex(context.Background(), "conversation-turns"))
			assert.Equal(t, tt.wantCreated, es.created)
		})
	}
}
