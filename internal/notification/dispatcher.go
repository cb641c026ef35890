package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/payease/payease/internal/logging"
)

// Dispatcher wraps a Notifier so delivery never fails the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher. A zero timeout defaults to five seconds.
func NewDispatcher(notifier Notifier, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, logger: logging.Component(logger, "notification")}
}

// Send delivers message synchronously. Failures are logged and swallowed.
func (d *Dispatcher) Send(ctx context.Context, message Message) {
	if d == nil || d.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, message); err != nil {
		d.logger.Warn("notification delivery failed",
			slog.String("account_id", message.AccountID),
			slog.String("kind", string(message.Kind)),
			slog.Any("error", err),
		)
	}
}

// Go delivers message on its own goroutine.
func (d *Dispatcher) Go(ctx context.Context, message Message) {
	if d == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go d.Send(ctx, message)
}
