package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderdeck/orderdeck/internal/database"
	"github.com/orderdeck/orderdeck/internal/entity"
)

var repoTracer = otel.Tracer("github.com/orderdeck/orderdeck/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// ErrApplicationNotFound is returned when an application is missing.
var ErrApplicationNotFound = errors.New("application not found")

// ErrStaleStatus is returned when a conditional status update matched no row:
// either the order vanished or a concurrent transaction changed the status
// first. The conditional predicate is what decides claim races.
var ErrStaleStatus = errors.New("order status changed concurrently")

// Repository encapsulates read/write access for orders, their history ledger,
// and claim applications. Status changes and their history rows are always
// written in one transaction so the ledger can never miss an entry.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// StatusChange describes one conditional status transition. From is the
// status the row must still hold for the update to apply.
type StatusChange struct {
	OrderID           int64
	From              entity.Status
	To                entity.Status
	ActorID           int64
	Note              *string
	ClaimedBy         *int64
	ClaimedByUsername *string
}

// Create persists a new order together with its initial history row
// (from_status null) in a single transaction.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.status", order.Status.String())))
	defer span.End()

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
		order.UpdatedAt = now
	}

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		hist := &entity.OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  order.Status,
			ActorID:   order.CreatedBy,
			CreatedAt: now,
		}
		_, err := tx.NewInsert().Model(hist).Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches an order by primary key using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// ListForUser returns the most recently touched orders the user created or
// claimed, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID int64, limit int) ([]entity.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var orders []entity.Order
	err := r.reader.NewSelect().Model(&orders).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("created_by = ?", userID).WhereOr("claimed_by = ?", userID)
		}).
		Order("updated_at DESC").
		Limit(limit).
		Scan(ctx)
	return orders, err
}

// ApplyStatusChange performs the compare-and-swap transition and appends the
// history row in one transaction. The UPDATE is predicated on the expected
// current status and verified via affected-row count; losing a race yields
// ErrStaleStatus with nothing written.
func (r *Repository) ApplyStatusChange(ctx context.Context, change StatusChange) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ApplyStatusChange", trace.WithAttributes(
		attribute.Int64("order.id", change.OrderID),
		attribute.String("order.from", change.From.String()),
		attribute.String("order.to", change.To.String()),
	))
	defer span.End()

	var updated entity.Order
	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return applyStatusChangeTx(ctx, tx, change, &updated)
	})
	if err != nil {
		if !errors.Is(err, ErrStaleStatus) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
		}
		return nil, err
	}
	return &updated, nil
}

// applyStatusChangeTx is the shared transactional core of every transition.
func applyStatusChangeTx(ctx context.Context, tx bun.Tx, change StatusChange, out *entity.Order) error {
	now := time.Now().UTC()

	q := tx.NewUpdate().Model((*entity.Order)(nil)).
		Set("status = ?", change.To).
		Set("updated_at = ?", now).
		Where("id = ?", change.OrderID).
		Where("status = ?", change.From)
	switch {
	case change.ClaimedBy != nil:
		q = q.Set("claimed_by = ?", *change.ClaimedBy).
			Set("claimed_by_username = ?", change.ClaimedByUsername)
	case !change.To.Claimed():
		// Leaving the claimed stage releases the claimant, so claimed_by is
		// set exactly when the status says someone holds the order.
		q = q.Set("claimed_by = NULL").
			Set("claimed_by_username = NULL")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleStatus
	}

	from := change.From
	hist := &entity.OrderStatusHistory{
		OrderID:    change.OrderID,
		FromStatus: &from,
		ToStatus:   change.To,
		ActorID:    change.ActorID,
		Note:       change.Note,
		CreatedAt:  now,
	}
	if _, err := tx.NewInsert().Model(hist).Exec(ctx); err != nil {
		return err
	}

	return tx.NewSelect().Model(out).Where("id = ?", change.OrderID).Scan(ctx)
}

// SetChannelMessageID stores the external channel message reference after a
// successful publish. Runs outside any status transaction: announcement
// delivery must never hold a status write open.
func (r *Repository) SetChannelMessageID(ctx context.Context, orderID, messageID int64) error {
	res, err := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("channel_message_id = ?", messageID).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistory returns the order's ledger entries in chronological order.
func (r *Repository) ListHistory(ctx context.Context, orderID int64) ([]entity.OrderStatusHistory, error) {
	var entries []entity.OrderStatusHistory
	err := r.reader.NewSelect().Model(&entries).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Scan(ctx)
	return entries, err
}

// CreateOrGetApplication returns the existing application for the
// (order, applicant) pair or inserts a PENDING one.
func (r *Repository) CreateOrGetApplication(ctx context.Context, orderID, applicantID int64, applicantUsername *string) (*entity.OrderApplication, error) {
	app := new(entity.OrderApplication)
	err := r.reader.NewSelect().Model(app).
		Where("order_id = ?", orderID).
		Where("applicant_id = ?", applicantID).
		Scan(ctx)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	app = &entity.OrderApplication{
		OrderID:           orderID,
		ApplicantID:       applicantID,
		ApplicantUsername: applicantUsername,
		Status:            entity.ApplicationPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := r.writer.NewInsert().Model(app).Exec(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// GetApplicationByID fetches an application by primary key.
func (r *Repository) GetApplicationByID(ctx context.Context, id int64) (*entity.OrderApplication, error) {
	app := new(entity.OrderApplication)
	err := r.reader.NewSelect().Model(app).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrApplicationNotFound
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications returns an order's applications, oldest first, optionally
// filtered by status.
func (r *Repository) ListApplications(ctx context.Context, orderID int64, status *entity.ApplicationStatus) ([]entity.OrderApplication, error) {
	var apps []entity.OrderApplication
	q := r.reader.NewSelect().Model(&apps).
		Where("order_id = ?", orderID).
		Order("id ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return apps, nil
}

// UpdateApplicationStatus rewrites an application's review status.
func (r *Repository) UpdateApplicationStatus(ctx context.Context, id int64, status entity.ApplicationStatus) (*entity.OrderApplication, error) {
	res, err := r.writer.NewUpdate().Model((*entity.OrderApplication)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrApplicationNotFound
	}
	return r.GetApplicationByID(ctx, id)
}

// Approval is the atomic unit for application review: the application flips
// to APPROVED, sibling PENDING applications are rejected, and the order moves
// NEW -> CLAIMED with claimed_by set to the applicant — together or not at all.
type Approval struct {
	OrderID       int64
	ApplicationID int64
	ApproverID    int64
}

// ApproveApplication executes the approval unit of work. The order transition
// reuses the same conditional predicate as every other mutation path.
func (r *Repository) ApproveApplication(ctx context.Context, approval Approval) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ApproveApplication", trace.WithAttributes(
		attribute.Int64("order.id", approval.OrderID),
		attribute.Int64("application.id", approval.ApplicationID),
	))
	defer span.End()

	var updated entity.Order
	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()

		app := new(entity.OrderApplication)
		err := tx.NewSelect().Model(app).Where("id = ?", approval.ApplicationID).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrApplicationNotFound
		}
		if err != nil {
			return err
		}
		if app.OrderID != approval.OrderID {
			return ErrApplicationNotFound
		}

		if _, err := tx.NewUpdate().Model((*entity.OrderApplication)(nil)).
			Set("status = ?", entity.ApplicationApproved).
			Set("updated_at = ?", now).
			Where("id = ?", app.ID).
			Exec(ctx); err != nil {
			return err
		}

		// A claimed order is no longer claimable, so sibling applications
		// cannot succeed; reject them in the same unit of work.
		if _, err := tx.NewUpdate().Model((*entity.OrderApplication)(nil)).
			Set("status = ?", entity.ApplicationRejected).
			Set("updated_at = ?", now).
			Where("order_id = ?", approval.OrderID).
			Where("id != ?", app.ID).
			Where("status = ?", entity.ApplicationPending).
			Exec(ctx); err != nil {
			return err
		}

		change := StatusChange{
			OrderID:           approval.OrderID,
			From:              entity.StatusNew,
			To:                entity.StatusClaimed,
			ActorID:           approval.ApproverID,
			ClaimedBy:         &app.ApplicantID,
			ClaimedByUsername: app.ApplicantUsername,
		}
		return applyStatusChangeTx(ctx, tx, change, &updated)
	})
	if err != nil {
		if !errors.Is(err, ErrStaleStatus) && !errors.Is(err, ErrApplicationNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "approval failed")
		}
		return nil, err
	}
	return &updated, nil
}

// Delete removes the order and its history and rewrites all its applications
// to REJECTED. Applications survive the order as a review audit trail.
func (r *Repository) Delete(ctx context.Context, orderID int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Delete", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*entity.OrderApplication)(nil)).
			Set("status = ?", entity.ApplicationRejected).
			Set("updated_at = ?", time.Now().UTC()).
			Where("order_id = ?", orderID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*entity.OrderStatusHistory)(nil)).
			Where("order_id = ?", orderID).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*entity.Order)(nil)).
			Where("id = ?", orderID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
	}
	return err
}
