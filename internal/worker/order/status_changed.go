package order

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/orderdeck/orderdeck/internal/channel"
	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/messaging"
	orderrepo "github.com/orderdeck/orderdeck/internal/repository/order"
	ordersvc "github.com/orderdeck/orderdeck/internal/service/order"
	"github.com/orderdeck/orderdeck/internal/worker"
)

var workerTracer = otel.Tracer("github.com/orderdeck/orderdeck/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewStatusChangedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewStatusChangedHandler builds the channel reconciliation consumer. For
// every committed status change it reloads the order and re-issues an
// idempotent channel edit, so announcements converge with stored state even
// when the inline post-commit edit was abandoned mid-retry (e.g. shutdown).
func NewStatusChangedHandler(repo *orderrepo.Repository, sink channel.Sink, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.reconcile", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.StatusEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode status event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}

		order, err := repo.GetByID(ctx, event.OrderID)
		if errors.Is(err, orderrepo.ErrNotFound) {
			// Deleted since the event was emitted; nothing to reconcile.
			logger.Debug("order gone, skipping reconcile", zap.Int64("order_id", event.OrderID))

			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load error")
			return err
		}

		if !sink.Edit(ctx, order) {
			logger.Warn("channel reconcile edit failed",
				zap.Int64("order_id", order.ID),
				zap.String("status", order.Status.String()),
			)

			return nil
		}

		logger.Info("status event reconciled",
			zap.Int64("order_id", event.OrderID),
			zap.String("to_status", event.ToStatus.String()),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
