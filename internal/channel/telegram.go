package channel

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/nudge/internal/logger"
)

const TelegramName = "telegram"

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers to the chat id stored on the user's profile
type Telegram struct {
	api        telegramAPI
	recipients Recipients
}

func NewTelegram(token string, recipients Recipients) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{api: api, recipients: recipients}, nil
}

func (t *Telegram) Name() string { return TelegramName }

func (t *Telegram) chatID(ctx context.Context, userID string) (int64, error) {
	p, err := t.recipients.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if p.TelegramChatID == 0 {
		return 0, fmt.Errorf("%w: telegram chat for %s", ErrNoRecipient, userID)
	}
	return p.TelegramChatID, nil
}

func (t *Telegram) CheckAvailable(ctx context.Context, userID string) bool {
	_, err := t.chatID(ctx, userID)
	return err == nil
}

func (t *Telegram) Send(ctx context.Context, userID string, msg Message) (string, error) {
	chatID, err := t.chatID(ctx, userID)
	if err != nil {
		return "", err
	}
	return t.SendChat(chatID, msg.Content)
}

// SendChat posts to a raw chat id, used for operator alerts
func (t *Telegram) SendChat(chatID int64, text string) (string, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		logger.Error("telegram send failed", "error", err, "chatID", chatID)
		return "", err
	}
	logger.Debug("telegram message sent", "chatID", chatID, "chars", len(text))
	return strconv.Itoa(sent.MessageID), nil
}
