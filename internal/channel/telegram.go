package channel

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/entity"
)

// botAPI is the slice of the Telegram client the sink needs. Tests inject a
// fake; production uses *tgbotapi.BotAPI.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type telegramSink struct {
	api    botAPI
	cfg    config.Channel
	logger *zap.Logger
}

func newTelegramSink(api botAPI, cfg config.Channel, logger *zap.Logger) *telegramSink {
	return &telegramSink{api: api, cfg: cfg, logger: logger}
}

func (s *telegramSink) Publish(ctx context.Context, order *entity.Order) (int64, bool) {
	if order.ChannelMessageID != nil {
		return *order.ChannelMessageID, true
	}

	msg := tgbotapi.NewMessage(s.cfg.ChatID, renderOrder(order))
	msg.ReplyMarkup = s.contactKeyboard()

	sent, err := s.send(ctx, msg)
	if err != nil {
		s.logger.Error("channel publish failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return 0, false
	}

	s.logger.Info("channel message published",
		zap.Int64("order_id", order.ID),
		zap.Int("message_id", sent.MessageID),
	)
	return int64(sent.MessageID), true
}

func (s *telegramSink) Edit(ctx context.Context, order *entity.Order) bool {
	if order.ChannelMessageID == nil {
		return true
	}

	edit := tgbotapi.NewEditMessageText(s.cfg.ChatID, int(*order.ChannelMessageID), renderOrder(order))
	keyboard := s.contactKeyboard()
	edit.ReplyMarkup = &keyboard

	if _, err := s.send(ctx, edit); err != nil {
		// Re-editing to identical content is how idempotent re-syncs look;
		// Telegram reports it as an error but the channel is already correct.
		if isNotModified(err) {
			return true
		}
		s.logger.Error("channel edit failed",
			zap.Int64("order_id", order.ID),
			zap.Int64("message_id", *order.ChannelMessageID),
			zap.Error(err),
		)
		return false
	}

	s.logger.Info("channel message edited",
		zap.Int64("order_id", order.ID),
		zap.Int64("message_id", *order.ChannelMessageID),
	)
	return true
}

// send delivers c, retrying with exponential backoff up to the configured
// attempt budget. Backoff sleeps are context-aware so in-flight retries can
// be abandoned on shutdown without affecting committed order state.
func (s *telegramSink) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	delay := s.cfg.RetryBaseDelay

	var msg tgbotapi.Message
	var err error
	for attempt := 1; ; attempt++ {
		msg, err = s.api.Send(c)
		if err == nil {
			return msg, nil
		}
		// Not transient: the channel already shows this content. Retrying
		// would burn the whole backoff budget on the same rejection.
		if isNotModified(err) {
			return msg, err
		}
		if attempt >= s.cfg.MaxAttempts {
			return msg, err
		}

		s.logger.Warn("channel delivery attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return msg, ctx.Err()
		}

		delay *= 2
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
	}
}

// isNotModified reports Telegram's "message is not modified" rejection.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// contactKeyboard builds the single "contact" affordance under the
// announcement, preferring the operator's username, then their user id,
// then the bot itself.
func (s *telegramSink) contactKeyboard() tgbotapi.InlineKeyboardMarkup {
	var contactURL string
	switch {
	case s.cfg.OperatorUsername != "":
		contactURL = "https://t.me/" + strings.TrimPrefix(s.cfg.OperatorUsername, "@")
	case s.cfg.OperatorUserID != 0:
		contactURL = "tg://user?id=" + formatInt(s.cfg.OperatorUserID)
	case s.cfg.BotUsername != "":
		contactURL = "https://t.me/" + strings.TrimPrefix(s.cfg.BotUsername, "@")
	default:
		contactURL = "https://t.me"
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Contact operator", contactURL),
		),
	)
}
