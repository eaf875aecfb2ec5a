package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hedge_bot/internal/models"
	"hedge_bot/pkg/db"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS hedge_events (
	id         UUID PRIMARY KEY,
	kind       TEXT        NOT NULL,
	pair_id    TEXT        NOT NULL DEFAULT '',
	message    TEXT        NOT NULL DEFAULT '',
	payload    JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
)`

const insertEvent = `
INSERT INTO hedge_events (id, kind, pair_id, message, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const writeTimeout = 5 * time.Second

// Journal пишет события в hedge_events асинхронно. Таблица только пополняется и
// никогда не читается ботом обратно.
type Journal struct {
	tx    db.TxManager
	log   *zap.Logger
	queue chan models.Event

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

func NewJournal(tx db.TxManager, queueSize int, log *zap.Logger) *Journal {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Journal{
		tx:    tx,
		log:   log,
		queue: make(chan models.Event, queueSize),
		done:  make(chan struct{}),
	}
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	return j.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, createEventsTable)
		return err
	})
}

// Record enqueues e without blocking. Events are dropped when the queue is full.
func (j *Journal) Record(e models.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.stopped {
		return
	}
	select {
	case j.queue <- e:
	default:
		j.log.Warn("journal queue full, event dropped", zap.String("kind", string(e.Kind)), zap.String("pair", e.PairID))
	}
}

func (j *Journal) Start() {
	go func() {
		defer close(j.done)
		for e := range j.queue {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := j.write(ctx, e); err != nil {
				j.log.Error("journal write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
			}
			cancel()
		}
	}()
}

func (j *Journal) write(ctx context.Context, e models.Event) error {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return j.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, insertEvent, e.ID, string(e.Kind), e.PairID, e.Message, payload, e.At)
		return err
	})
}

// Stop closes the queue and waits for pending writes until ctx expires.
func (j *Journal) Stop(ctx context.Context) error {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return nil
	}
	j.stopped = true
	close(j.queue)
	j.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("journal drain: %w", ctx.Err())
	}
}
