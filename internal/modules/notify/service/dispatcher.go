package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Message struct {
	Title string
	Body  string
	At    time.Time
}

// Channel is one delivery route: Telegram, e-mail and so on.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

const deliverTimeout = 15 * time.Second

// Dispatcher: неблокирующий отправитель уведомлений. Send кладёт сообщение в очередь,
// воркер раздаёт его по каналам. Если очередь полна, сообщение отбрасывается.
type Dispatcher struct {
	log      *zap.Logger
	channels []Channel
	queue    chan Message

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
	started bool
}

func NewDispatcher(queueSize int, log *zap.Logger, channels ...Channel) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		log:      log,
		channels: channels,
		queue:    make(chan Message, queueSize),
		done:     make(chan struct{}),
	}
}

// Send never blocks and never panics into the caller.
func (d *Dispatcher) Send(title, message string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification send panicked", zap.Any("panic", r))
		}
	}()

	d.log.Info("notification", zap.String("title", title), zap.String("message", message))

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn("notification dropped, dispatcher stopped", zap.String("title", title))
		return
	}
	select {
	case d.queue <- Message{Title: title, Body: message, At: time.Now()}:
	default:
		d.log.Warn("notification queue full, dropping", zap.String("title", title))
	}
}

// Start runs the delivery worker until Stop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	d.log.Info("notification dispatcher started", zap.Strings("channels", names))

	go func() {
		defer close(d.done)
		for m := range d.queue {
			d.deliver(m)
		}
	}()
}

func (d *Dispatcher) deliver(m Message) {
	for _, c := range d.channels {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("notification channel panicked", zap.String("channel", c.Name()), zap.Any("panic", r))
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			defer cancel()
			if err := c.Deliver(ctx, m); err != nil {
				d.log.Error("notification delivery failed",
					zap.String("channel", c.Name()),
					zap.String("title", m.Title),
					zap.Error(err),
				)
			}
		}()
	}
}

// Stop closes the queue and waits for queued messages to be delivered or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain: %w", ctx.Err())
	}
}
