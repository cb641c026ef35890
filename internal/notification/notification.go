// Package notification delivers best-effort notices to account owners.
package notification

import (
	"context"
	"log/slog"
)

// Kind identifies the template the mailer renders.
type Kind string

const (
	KindTwoFactorCode  Kind = "two_factor_code"
	KindPaymentSuccess Kind = "payment_success"
	KindPaymentFailure Kind = "payment_failure"
	KindLowBalance     Kind = "low_balance"
)

// Message describes a notification payload.
type Message struct {
	AccountID string            `json:"account_id"`
	Kind      Kind              `json:"kind"`
	Payload   map[string]string `json:"payload"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Notify(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger. Used in development.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify writes the message to the structured logger. One-time codes are
// logged too, so never use it outside development.
func (n *LoggerNotifier) Notify(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{slog.String("account_id", message.AccountID), slog.String("kind", string(message.Kind))}
	for k, v := range message.Payload {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.Info("notification", attrs...)
	return nil
}
