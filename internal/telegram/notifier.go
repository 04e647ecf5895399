package telegram

import (
	"context"
	"log/slog"
)

type htmlSender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// Notifier delivers HTML notifications to users.
// Callers decide whether a failed delivery matters.
type Notifier struct {
	sender htmlSender
	logger *slog.Logger
}

func NewNotifier(sender htmlSender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	if chatID <= 0 {
		n.logger.Warn("Skipping notification without chat", "chat_id", chatID)
		return nil
	}
	return n.sender.SendHTML(ctx, chatID, text)
}
