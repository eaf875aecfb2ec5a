package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge_bot/internal/models"
	"hedge_bot/pkg/db"
)

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.err
}

func (f *fakeTx) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }

func (f *fakeTx) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx db.Transaction) error) error {
	return fn(ctx, f)
}

func (f *fakeTx) snapshot() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.calls...)
}

func TestJournal_WritesEvents(t *testing.T) {
	tx := &fakeTx{}
	j := NewJournal(tx, 4, zap.NewNop())
	require.NoError(t, j.EnsureSchema(context.Background()))
	j.Start()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.Record(models.Event{Kind: models.EventStopLoss, PairID: "acc1-acc2", Message: "stop-loss triggered", Data: map[string]any{"pnl": -150.5}, At: at})
	j.Record(models.Event{Kind: models.EventClosed, PairID: "acc1-acc2"})
	require.NoError(t, j.Stop(context.Background()))

	calls := tx.snapshot()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].sql, "CREATE TABLE IF NOT EXISTS hedge_events")

	first := calls[1].args
	require.Len(t, first, 6)
	assert.NotEmpty(t, first[0], "id is generated")
	assert.Equal(t, "stop_loss", first[1])
	assert.Equal(t, "acc1-acc2", first[2])
	assert.JSONEq(t, `{"pnl":-150.5}`, string(first[4].([]byte)))
	assert.Equal(t, at, first[5])

	second := calls[2].args
	assert.JSONEq(t, `{}`, string(second[4].([]byte)))
	assert.NotEqual(t, first[0], second[0])
}

func TestJournal_WriteErrorsDoNotStopWorker(t *testing.T) {
	tx := &fakeTx{err: errors.New("relation does not exist")}
	j := NewJournal(tx, 4, zap.NewNop())
	j.Start()

	j.Record(models.Event{Kind: models.EventOpened})
	j.Record(models.Event{Kind: models.EventClosed})
	require.NoError(t, j.Stop(context.Background()))
	assert.Len(t, tx.snapshot(), 2)

	// recording after stop is a no-op
	assert.NotPanics(t, func() { j.Record(models.Event{Kind: models.EventOpened}) })
}
