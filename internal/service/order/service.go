package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/orderdeck/orderdeck/internal/cache"
	"github.com/orderdeck/orderdeck/internal/channel"
	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/entity"
	"github.com/orderdeck/orderdeck/internal/messaging"
	repo "github.com/orderdeck/orderdeck/internal/repository/order"
	"github.com/orderdeck/orderdeck/pkg/apperr"
)

var serviceTracer = otel.Tracer("github.com/orderdeck/orderdeck/service/order")

// Service is the order state machine. All mutations run through it: it
// validates transitions against the lifecycle table, persists the change and
// its history row in one transaction, and only then synchronizes the channel
// announcement and emits the status event — both best-effort, so a slow or
// failing external call can never hold a database write open or undo a commit.
type Service struct {
	repo      *repo.Repository
	sink      channel.Sink
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Sink       channel.Sink
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repository,
		sink:      p.Sink,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    p.Logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
	}
}

// CreateOrderInput carries the caller-supplied fields for a new order. The
// dispatch layer owns authentication; the actor identifiers are trusted here.
type CreateOrderInput struct {
	Title             string
	Content           string
	Amount            *float64
	ImagePath         *string
	CreatedBy         int64
	CreatedByUsername *string
	ContactUsername   *string

	// Draft creates the order without announcing it; PublishDraft moves it
	// to NEW and posts it later (two-step flow).
	Draft bool
}

// CreateOrder inserts the order with its initial history row, then announces
// it on the channel. Publish failure is logged, never fatal: the order
// persists regardless of announcement delivery.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*entity.Order, error) {
	if in.Title == "" || in.Content == "" {
		return nil, apperr.BadRequest("title and content are required")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(attribute.Bool("order.draft", in.Draft)))
	defer span.End()

	status := entity.StatusNew
	if in.Draft {
		status = entity.StatusDraft
	}

	order := &entity.Order{
		Title:             in.Title,
		Content:           in.Content,
		Amount:            in.Amount,
		ImagePath:         in.ImagePath,
		Status:            status,
		CreatedBy:         in.CreatedBy,
		CreatedByUsername: in.CreatedByUsername,
		ContactUsername:   in.ContactUsername,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, apperr.Internal("failed to create order", apperr.WithCause(err))
	}

	if status == entity.StatusNew {
		s.syncPublish(ctx, order)
	}

	s.storeInCache(ctx, order)
	s.publishStatusEvent(ctx, order, nil, order.CreatedBy)
	return order, nil
}

// PublishDraft moves a DRAFT order to NEW and posts the announcement. On a
// non-draft order the transition is skipped; the publish step still runs when
// no channel message id is stored yet, making the operation safe to retry.
func (s *Service) PublishDraft(ctx context.Context, orderID int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.PublishDraft", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == entity.StatusDraft {
		from := order.Status
		order, err = s.applyChange(ctx, repo.StatusChange{
			OrderID: orderID,
			From:    entity.StatusDraft,
			To:      entity.StatusNew,
			ActorID: order.CreatedBy,
		})
		if err != nil {
			return nil, err
		}
		s.publishStatusEvent(ctx, order, &from, order.CreatedBy)
	}

	if order.ChannelMessageID == nil {
		s.syncPublish(ctx, order)
	}

	s.storeInCache(ctx, order)
	return order, nil
}

// ClaimOrder transitions a NEW order to CLAIMED by the acting operator.
// The status check and claimed_by write are one atomic step; concurrent
// claimers lose on the conditional update and observe the same rejection as
// a stale read would.
func (s *Service) ClaimOrder(ctx context.Context, orderID, actorID int64, actorUsername *string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ClaimOrder", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("actor.id", actorID),
	))
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != entity.StatusNew {
		return nil, errOnlyNewClaimable()
	}

	updated, err := s.repo.ApplyStatusChange(ctx, repo.StatusChange{
		OrderID:           orderID,
		From:              entity.StatusNew,
		To:                entity.StatusClaimed,
		ActorID:           actorID,
		ClaimedBy:         &actorID,
		ClaimedByUsername: actorUsername,
	})
	if errors.Is(err, repo.ErrStaleStatus) {
		// Lost the claim race; the winning transaction moved it off NEW.
		return nil, errOnlyNewClaimable()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errUpdateFailed(err)
	}

	s.afterTransition(ctx, updated, entity.StatusNew, actorID)
	return updated, nil
}

// UpdateStatus applies an arbitrary transition validated against the
// lifecycle table. Passing the current status is an idempotent no-op that
// returns the order unchanged with no history row.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, newStatus entity.Status, actorID int64, note *string) (*entity.Order, error) {
	if !newStatus.Valid() {
		return nil, apperr.BadRequest(fmt.Sprintf("unknown status: %s", newStatus))
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.to", newStatus.String()),
	))
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == newStatus {
		return order, nil
	}
	if !order.Status.CanTransition(newStatus) {
		return nil, apperr.Unprocessable(
			fmt.Sprintf("invalid transition: %s -> %s", order.Status, newStatus),
			apperr.WithCode(apperr.CodeInvalidTransition),
		)
	}

	change := repo.StatusChange{
		OrderID: orderID,
		From:    order.Status,
		To:      newStatus,
		ActorID: actorID,
		Note:    note,
	}
	// A direct move into CLAIMED assigns the actor, keeping the
	// claimed_by-iff-claimed invariant intact on every path.
	if newStatus == entity.StatusClaimed && order.ClaimedBy == nil {
		change.ClaimedBy = &actorID
	}

	updated, err := s.applyChange(ctx, change)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated, order.Status, actorID)
	return updated, nil
}

// ApplyForOrder records a claim application for an existing order. Re-applying
// returns the existing application; the order itself is untouched.
func (s *Service) ApplyForOrder(ctx context.Context, orderID, applicantID int64, applicantUsername *string) (*entity.OrderApplication, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ApplyForOrder", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("applicant.id", applicantID),
	))
	defer span.End()

	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}

	app, err := s.repo.CreateOrGetApplication(ctx, orderID, applicantID, applicantUsername)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, apperr.Internal("failed to record application", apperr.WithCause(err))
	}
	return app, nil
}

// ApproveApplication approves the application and claims the order for the
// applicant in one atomic unit; sibling PENDING applications are rejected in
// the same transaction since the order is no longer claimable.
func (s *Service) ApproveApplication(ctx context.Context, orderID, applicationID, approverID int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ApproveApplication", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("application.id", applicationID),
	))
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != entity.StatusNew {
		return nil, errOnlyNewClaimable()
	}

	updated, err := s.repo.ApproveApplication(ctx, repo.Approval{
		OrderID:       orderID,
		ApplicationID: applicationID,
		ApproverID:    approverID,
	})
	switch {
	case errors.Is(err, repo.ErrApplicationNotFound):
		return nil, apperr.NotFound("application not found", apperr.WithCode(apperr.CodeApplicationNotFound))
	case errors.Is(err, repo.ErrStaleStatus):
		return nil, errOnlyNewClaimable()
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errUpdateFailed(err)
	}

	s.afterTransition(ctx, updated, entity.StatusNew, approverID)
	return updated, nil
}

// RejectApplication marks the application REJECTED. The order is untouched.
func (s *Service) RejectApplication(ctx context.Context, applicationID, reviewerID int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.RejectApplication", trace.WithAttributes(
		attribute.Int64("application.id", applicationID),
		attribute.Int64("reviewer.id", reviewerID),
	))
	defer span.End()

	_, err := s.repo.UpdateApplicationStatus(ctx, applicationID, entity.ApplicationRejected)
	if errors.Is(err, repo.ErrApplicationNotFound) {
		return apperr.NotFound("application not found", apperr.WithCode(apperr.CodeApplicationNotFound))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return errUpdateFailed(err)
	}
	return nil
}

// DeleteOrder removes the order, its history, and rejects its applications.
func (s *Service) DeleteOrder(ctx context.Context, orderID, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.DeleteOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	err := s.repo.Delete(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return errOrderNotFound()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return errUpdateFailed(err)
	}

	s.dropFromCache(ctx, orderID)
	s.logger.Info("order deleted", zap.Int64("order_id", orderID), zap.Int64("actor_id", actorID))
	return nil
}

// Get retrieves an order by id, consulting cache when available.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	s.storeInCache(ctx, order)
	return order, nil
}

// ListForUser returns the orders the user created or claimed, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]entity.Order, error) {
	orders, err := s.repo.ListForUser(ctx, userID, 20)
	if err != nil {
		return nil, apperr.Internal("failed to list orders", apperr.WithCause(err))
	}
	return orders, nil
}

// History returns the order's status ledger in chronological order.
func (s *Service) History(ctx context.Context, orderID int64) ([]entity.OrderStatusHistory, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal("failed to list history", apperr.WithCause(err))
	}
	return entries, nil
}

// Applications returns the order's applications, oldest first.
func (s *Service) Applications(ctx context.Context, orderID int64) ([]entity.OrderApplication, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	apps, err := s.repo.ListApplications(ctx, orderID, nil)
	if err != nil {
		return nil, apperr.Internal("failed to list applications", apperr.WithCause(err))
	}
	return apps, nil
}

func (s *Service) loadOrder(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errOrderNotFound()
	}
	if err != nil {
		return nil, apperr.Internal("failed to load order", apperr.WithCause(err))
	}
	return order, nil
}

func (s *Service) applyChange(ctx context.Context, change repo.StatusChange) (*entity.Order, error) {
	updated, err := s.repo.ApplyStatusChange(ctx, change)
	if errors.Is(err, repo.ErrStaleStatus) {
		return nil, apperr.Conflict("order was modified concurrently", apperr.WithCode(apperr.CodeUpdateFailed))
	}
	if err != nil {
		return nil, errUpdateFailed(err)
	}
	return updated, nil
}

// afterTransition performs the post-commit side effects of a status change:
// cache refresh, idempotent channel edit, and the status event. All of them
// tolerate failure; the committed transition is already the truth.
func (s *Service) afterTransition(ctx context.Context, order *entity.Order, from entity.Status, actorID int64) {
	s.storeInCache(ctx, order)

	if !s.sink.Edit(ctx, order) {
		s.logger.Warn("channel edit failed after transition",
			zap.Int64("order_id", order.ID),
			zap.String("status", order.Status.String()),
		)
	}

	s.publishStatusEvent(ctx, order, &from, actorID)
}

// syncPublish posts the announcement and stores the returned message id.
// Runs strictly after the creating/transitioning transaction has committed.
func (s *Service) syncPublish(ctx context.Context, order *entity.Order) {
	messageID, ok := s.sink.Publish(ctx, order)
	if !ok {
		s.logger.Warn("channel publish skipped or failed", zap.Int64("order_id", order.ID))
		return
	}
	if order.ChannelMessageID != nil {
		return
	}
	if err := s.repo.SetChannelMessageID(ctx, order.ID, messageID); err != nil {
		s.logger.Error("failed to store channel message id",
			zap.Int64("order_id", order.ID),
			zap.Int64("message_id", messageID),
			zap.Error(err),
		)
		return
	}
	order.ChannelMessageID = &messageID
}

func (s *Service) publishStatusEvent(ctx context.Context, order *entity.Order, from *entity.Status, actorID int64) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := StatusEvent{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   order.Status,
		ActorID:    actorID,
		OccurredAt: order.UpdatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal status event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte(fmt.Sprintf("order-%d", order.ID)), payload); err != nil {
		s.logger.Error("publish status event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) {
	if s.cache == nil || order == nil {
		return
	}
	bytes, err := json.Marshal(order)
	if err == nil {
		err = s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
	}
	if err != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", order.ID), zap.Error(err))
	}
}

func (s *Service) dropFromCache(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache delete failed", zap.Int64("id", id), zap.Error(err))
	}
}

func errOrderNotFound() error {
	return apperr.NotFound("order not found", apperr.WithCode(apperr.CodeOrderNotFound))
}

func errOnlyNewClaimable() error {
	return apperr.Conflict("only NEW orders can be claimed", apperr.WithCode(apperr.CodeOnlyNewClaimable))
}

func errUpdateFailed(cause error) error {
	return apperr.Internal("failed to update order", apperr.WithCause(cause), apperr.WithCode(apperr.CodeUpdateFailed))
}
