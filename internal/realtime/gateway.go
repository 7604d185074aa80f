package realtime

import (
	"context"
	"time"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// MessageStore is the durable storage the engine writes through.
type MessageStore interface {
	SaveMessage(ctx context.Context, roomID, userID int, text string) (*models.Message, error)
	LoadRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error)
	OpenConnection(ctx context.Context, userID int, connectionID string, roomID int) (*models.ConnectionEvent, error)
	CloseConnection(ctx context.Context, connectionID string) error
}

// Gateway wraps MessageStore, bounding each call by timeout and reporting
// every failure as ErrPersistence.
type Gateway struct {
	store   MessageStore
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewGateway(store MessageStore, timeout time.Duration, m *metrics.Metrics) *Gateway {
	return &Gateway{store: store, timeout: timeout, metrics: m}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) fail(op, reason string, err error) error {
	g.metrics.PersistenceError(op)
	return newError(ErrPersistence, op, reason, err)
}

func (g *Gateway) AppendMessage(ctx context.Context, roomID, userID int, text string) (*models.Message, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	msg, err := g.store.SaveMessage(ctx, roomID, userID, text)
	if err != nil {
		return nil, g.fail("append_message", "failed to save message", err)
	}
	return msg, nil
}

// History returns up to limit of the newest messages in roomID, oldest
// first. A non-positive limit means DefaultHistoryLimit.
func (g *Gateway) History(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	limit = ClampHistoryLimit(limit)

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	msgs, err := g.store.LoadRecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, g.fail("history", "failed to load message history", err)
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}

func (g *Gateway) RecordConnect(ctx context.Context, userID int, connID string, roomID int) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if _, err := g.store.OpenConnection(ctx, userID, connID, roomID); err != nil {
		return g.fail("record_connect", "failed to record room join", err)
	}
	return nil
}

func (g *Gateway) RecordDisconnect(ctx context.Context, connID string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.store.CloseConnection(ctx, connID); err != nil {
		return g.fail("record_disconnect", "failed to record disconnect", err)
	}
	return nil
}

// ClampHistoryLimit applies the default and upper bound to a requested
// history size.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}
