package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderdeck/orderdeck/internal/dto"
	"github.com/orderdeck/orderdeck/internal/entity"
	"github.com/orderdeck/orderdeck/internal/presentation/http/response"
	service "github.com/orderdeck/orderdeck/internal/service/order"
	"github.com/orderdeck/orderdeck/pkg/apperr"
)

var httpTracer = otel.Tracer("github.com/orderdeck/orderdeck/transport/http/order")

// Handler exposes order endpoints over HTTP. It is the thin dispatch layer:
// it binds, delegates to the service, and renders typed errors — all business
// rules live behind it.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.GET("", h.listForUser)
	g.GET("/:id/history", h.history)
	g.POST("/:id/publish", h.publishDraft)
	g.POST("/:id/claim", h.claim)
	g.POST("/:id/status", h.updateStatus)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/applications", h.apply)
	g.GET("/:id/applications", h.applications)
	g.POST("/:id/applications/:appID/approve", h.approve)

	e.POST("/applications/:appID/reject", h.reject)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		Title             string   `json:"title"`
		Content           string   `json:"content"`
		Amount            *float64 `json:"amount"`
		ImagePath         *string  `json:"image_path"`
		CreatedBy         int64    `json:"created_by"`
		CreatedByUsername *string  `json:"created_by_username"`
		ContactUsername   *string  `json:"contact_username"`
		Draft             bool     `json:"draft"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.Bool("order.draft", payload.Draft),
	))
	defer span.End()

	order, err := h.svc.CreateOrder(ctx, service.CreateOrderInput{
		Title:             payload.Title,
		Content:           payload.Content,
		Amount:            payload.Amount,
		ImagePath:         payload.ImagePath,
		CreatedBy:         payload.CreatedBy,
		CreatedByUsername: payload.CreatedByUsername,
		ContactUsername:   payload.ContactUsername,
		Draft:             payload.Draft,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) listForUser(c echo.Context) error {
	b := response.New(c)

	userID, err := strconv.ParseInt(c.QueryParam("user_id"), 10, 64)
	if err != nil {
		return b.WithError(apperr.BadRequest("user_id query parameter is required")).Build()
	}

	orders, err := h.svc.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, dto.FromOrder(&orders[i]))
	}
	return b.WithData(out).Build()
}

func (h *Handler) history(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	entries, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.HistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.FromHistory(e))
	}
	return b.WithData(out).Build()
}

func (h *Handler) publishDraft(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.publishDraft", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.PublishDraft(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) claim(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ActorID       int64   `json:"actor_id"`
		ActorUsername *string `json:"actor_username"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.claim", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("actor.id", payload.ActorID),
	))
	defer span.End()

	order, err := h.svc.ClaimOrder(ctx, id, payload.ActorID, payload.ActorUsername)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Status  string  `json:"status"`
		ActorID int64   `json:"actor_id"`
		Note    *string `json:"note"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.to", payload.Status),
	))
	defer span.End()

	order, err := h.svc.UpdateStatus(ctx, id, entity.Status(payload.Status), payload.ActorID, payload.Note)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) delete(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ActorID int64 `json:"actor_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	if err := h.svc.DeleteOrder(c.Request().Context(), id, payload.ActorID); err != nil {
		return b.WithError(err).Build()
	}

	return b.Build()
}

func (h *Handler) apply(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ApplicantID       int64   `json:"applicant_id"`
		ApplicantUsername *string `json:"applicant_username"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	app, err := h.svc.ApplyForOrder(c.Request().Context(), id, payload.ApplicantID, payload.ApplicantUsername)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromApplication(*app)).Build()
}

func (h *Handler) applications(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	apps, err := h.svc.Applications(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.ApplicationResponse, 0, len(apps))
	for _, a := range apps {
		out = append(out, dto.FromApplication(a))
	}
	return b.WithData(out).Build()
}

func (h *Handler) approve(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	appID, err := pathID(c, "appID")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ApproverID int64 `json:"approver_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.approveApplication", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("application.id", appID),
	))
	defer span.End()

	order, err := h.svc.ApproveApplication(ctx, id, appID, payload.ApproverID)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) reject(c echo.Context) error {
	b := response.New(c)

	appID, err := pathID(c, "appID")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ReviewerID int64 `json:"reviewer_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(apperr.BadRequest("invalid payload", apperr.WithCause(err))).Build()
	}

	if err := h.svc.RejectApplication(c.Request().Context(), appID, payload.ReviewerID); err != nil {
		return b.WithError(err).Build()
	}

	return b.Build()
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, apperr.BadRequest("invalid "+name, apperr.WithCause(err))
	}
	return id, nil
}
