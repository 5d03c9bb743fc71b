package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/config"
	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/db/testdb"
	"github.com/orderflow/backend/internal/store/badger"
)

func TestOpenSQLBackend(t *testing.T) {
	s, err := Open(context.Background(), config.QueueConfig{Backend: config.BackendSQL}, testdb.New(t), nil)
	require.NoError(t, err)
	assert.IsType(t, &core.Queue{}, s)

	id, err := s.Enqueue(context.Background(), core.JobTypePayment, []byte(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestOpenSQLBackendNeedsDatabase(t *testing.T) {
	_, err := Open(context.Background(), config.QueueConfig{Backend: config.BackendSQL}, nil, nil)
	assert.Error(t, err)
}

func TestOpenBadgerBackend(t *testing.T) {
	cfg := config.QueueConfig{
		Backend:    config.BackendBadger,
		BadgerPath: filepath.Join(t.TempDir(), "jobs"),
	}
	s, err := Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &badger.Store{}, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.QueueConfig{Backend: "kafka"}, nil, nil)
	assert.ErrorContains(t, err, `unknown queue backend "kafka"`)
}

func TestOpenRedisBadURL(t *testing.T) {
	_, err := Open(context.Background(), config.QueueConfig{Backend: config.BackendRedis, RedisURL: "http://nope"}, nil, nil)
	assert.Error(t, err)
}
