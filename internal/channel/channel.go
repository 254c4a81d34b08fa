// Package channel publishes and edits order announcements on the external
// broadcast channel. Delivery is best-effort: the sink retries transient
// failures internally and never surfaces an error to callers, because order
// state in the database is the source of truth and announcements only follow.
package channel

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/entity"
)

// Sink pushes order summaries to the broadcast surface.
type Sink interface {
	// Publish posts the order announcement and returns the channel message id.
	// When the order already carries a message id the call is a no-op that
	// returns the stored id, so retried service calls cannot duplicate posts.
	// ok is false when delivery failed or no sink is configured.
	Publish(ctx context.Context, order *entity.Order) (messageID int64, ok bool)

	// Edit updates the existing announcement to match the order. Returns true
	// on success and when there is nothing to edit (no stored message id).
	Edit(ctx context.Context, order *entity.Order) bool
}

// Module provides the channel sink to the Fx graph.
var Module = fx.Provide(NewSink)

// NewSink builds the configured sink. Missing or unreachable credentials
// degrade to a noop sink: announcement delivery is optional by design of the
// order flow, an order must persist whether or not the channel is up.
func NewSink(cfg config.Config, logger *zap.Logger) Sink {
	if !cfg.Channel.Enabled {
		logger.Info("channel sink disabled; using noop sink")
		return noopSink{}
	}

	api, err := tgbotapi.NewBotAPI(cfg.Channel.BotToken)
	if err != nil {
		logger.Warn("channel sink unreachable; using noop sink", zap.Error(err))
		return noopSink{}
	}

	logger.Info("channel sink connected", zap.Int64("chat_id", cfg.Channel.ChatID))
	return newTelegramSink(api, cfg.Channel, logger)
}

type noopSink struct{}

func (noopSink) Publish(context.Context, *entity.Order) (int64, bool) { return 0, false }
func (noopSink) Edit(context.Context, *entity.Order) bool             { return true }
