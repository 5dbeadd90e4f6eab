// Package notify delivers merchant and customer messages. It is only driven
// by the outbox dispatcher, after the change that caused a message is committed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/straye-as/merchant-ledger/internal/config"
	"go.uber.org/zap"
)

// ErrNoRecipient is returned when a message has no destination number
var ErrNoRecipient = errors.New("message has no recipient")

// Message is a plain text message to one phone number in E.164 form
type Message struct {
	To   string
	Body string
}

// Notifier sends messages
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NewNotifier builds the notifier selected by cfg.Provider
func NewNotifier(cfg *config.NotificationsConfig, logger *zap.Logger) (Notifier, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "whatsapp":
		if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
			return nil, fmt.Errorf("whatsapp provider requires an access token and phone number id")
		}
		return NewWhatsAppNotifier(cfg.APIBaseURL, cfg.PhoneNumberID, cfg.AccessToken, cfg.RequestTimeoutDuration(), logger), nil
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", cfg.Provider)
	}
}

// LogNotifier writes messages to the log instead of sending them
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	n.logger.Info("notification",
		zap.String("to", msg.To),
		zap.String("body", msg.Body))
	return nil
}
