package order_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/database"
	"github.com/orderdeck/orderdeck/internal/entity"
	"github.com/orderdeck/orderdeck/internal/messaging"
	orderrepo "github.com/orderdeck/orderdeck/internal/repository/order"
	ordersvc "github.com/orderdeck/orderdeck/internal/service/order"
	workerorder "github.com/orderdeck/orderdeck/internal/worker/order"
)

type recordingSink struct {
	edited []int64
	ok     bool
}

func (r *recordingSink) Publish(_ context.Context, _ *entity.Order) (int64, bool) {
	return 0, false
}

func (r *recordingSink) Edit(_ context.Context, order *entity.Order) bool {
	r.edited = append(r.edited, order.ID)
	return r.ok
}

func newHandlerFixture(t *testing.T) (*orderrepo.Repository, *recordingSink, messaging.Handler) {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*entity.Order)(nil),
		(*entity.OrderStatusHistory)(nil),
		(*entity.OrderApplication)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	repo := orderrepo.NewRepository(&database.Connections{Writer: db, Reader: db})
	sink := &recordingSink{ok: true}

	cfg := config.Config{}
	cfg.Messaging.Kafka.Topic = "orders.status"

	reg := workerorder.NewStatusChangedHandler(repo, sink, zap.NewNop(), cfg)
	assert.Equal(t, "orders.status", reg.Topic)

	return repo, sink, reg.Handler
}

func statusEventMessage(t *testing.T, orderID int64) messaging.Message {
	t.Helper()
	payload, err := json.Marshal(ordersvc.StatusEvent{
		OrderID:  orderID,
		ToStatus: entity.StatusClaimed,
	})
	require.NoError(t, err)
	return messaging.Message{Topic: "orders.status", Value: payload}
}

func TestStatusChangedHandlerReconcilesChannel(t *testing.T) {
	repo, sink, handler := newHandlerFixture(t)
	ctx := context.Background()

	order := &entity.Order{
		Title:     "Walk the dog",
		Content:   "Morning walk, 30 minutes",
		Status:    entity.StatusNew,
		CreatedBy: 100,
	}
	require.NoError(t, repo.Create(ctx, order))

	require.NoError(t, handler(ctx, statusEventMessage(t, order.ID)))
	assert.Equal(t, []int64{order.ID}, sink.edited)
}

func TestStatusChangedHandlerSkipsDeletedOrder(t *testing.T) {
	_, sink, handler := newHandlerFixture(t)

	require.NoError(t, handler(context.Background(), statusEventMessage(t, 999)))
	assert.Empty(t, sink.edited)
}

func TestStatusChangedHandlerRejectsMalformedPayload(t *testing.T) {
	_, sink, handler := newHandlerFixture(t)

	err := handler(context.Background(), messaging.Message{Topic: "orders.status", Value: []byte("{not json")})
	require.Error(t, err)
	assert.Empty(t, sink.edited)
}

func TestStatusChangedHandlerToleratesEditFailure(t *testing.T) {
	repo, sink, handler := newHandlerFixture(t)
	sink.ok = false
	ctx := context.Background()

	order := &entity.Order{
		Title:     "Walk the dog",
		Content:   "Morning walk, 30 minutes",
		Status:    entity.StatusNew,
		CreatedBy: 100,
	}
	require.NoError(t, repo.Create(ctx, order))

	require.NoError(t, handler(ctx, statusEventMessage(t, order.ID)))
	assert.Equal(t, []int64{order.ID}, sink.edited)
}
