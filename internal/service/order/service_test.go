package order_test

import (
	"context"
	"database/sql"
	"sync"
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
	repo "github.com/orderdeck/orderdeck/internal/repository/order"
	service "github.com/orderdeck/orderdeck/internal/service/order"
	"github.com/orderdeck/orderdeck/pkg/apperr"
)

// fakeSink records channel interactions so tests can assert announcement
// behavior without a live bot.
type fakeSink struct {
	mu          sync.Mutex
	publishFail bool
	nextID      int64
	published   []int64
	edited      []int64
}

func (f *fakeSink) Publish(_ context.Context, order *entity.Order) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishFail {
		return 0, false
	}
	if order.ChannelMessageID != nil {
		return *order.ChannelMessageID, true
	}
	f.nextID++
	f.published = append(f.published, order.ID)
	return 4000 + f.nextID, true
}

func (f *fakeSink) Edit(_ context.Context, order *entity.Order) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, order.ID)
	return true
}

func newTestService(t *testing.T) (*service.Service, *repo.Repository, *fakeSink) {
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

	repository := repo.NewRepository(&database.Connections{Writer: db, Reader: db})
	sink := &fakeSink{}
	svc := service.NewService(service.Params{
		Repository: repository,
		Sink:       sink,
		Config:     config.Config{},
		Logger:     zap.NewNop(),
	})
	return svc, repository, sink
}

func createInput() service.CreateOrderInput {
	return service.CreateOrderInput{
		Title:     "Assemble a wardrobe",
		Content:   "Flat-pack, all parts present",
		CreatedBy: 100,
	}
}

func TestCreateOrderPublishesAndStoresMessageID(t *testing.T) {
	svc, repository, sink := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNew, order.Status)
	require.NotNil(t, order.ChannelMessageID)
	assert.Equal(t, []int64{order.ID}, sink.published)

	stored, err := repository.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ChannelMessageID)
	assert.Equal(t, *order.ChannelMessageID, *stored.ChannelMessageID)
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	svc, repository, sink := newTestService(t)
	sink.publishFail = true
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err, "announcement failure must not fail creation")
	assert.Nil(t, order.ChannelMessageID)

	stored, err := repository.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNew, stored.Status)
}

func TestCreateOrderValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), service.CreateOrderInput{CreatedBy: 100})
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.From(err).Kind())
}

func TestCreateDraftSkipsPublish(t *testing.T) {
	svc, _, sink := newTestService(t)

	in := createInput()
	in.Draft = true
	order, err := svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, order.Status)
	assert.Nil(t, order.ChannelMessageID)
	assert.Empty(t, sink.published)
}

func TestPublishDraftTransitionsAndAnnounces(t *testing.T) {
	svc, repository, sink := newTestService(t)
	ctx := context.Background()

	in := createInput()
	in.Draft = true
	order, err := svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	published, err := svc.PublishDraft(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNew, published.Status)
	require.NotNil(t, published.ChannelMessageID)
	assert.Equal(t, []int64{order.ID}, sink.published)

	entries, err := repository.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entity.StatusDraft, *entries[1].FromStatus)
	assert.Equal(t, entity.StatusNew, entries[1].ToStatus)
}

func TestPublishDraftIsRetrySafe(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	in := createInput()
	in.Draft = true
	order, err := svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	first, err := svc.PublishDraft(ctx, order.ID)
	require.NoError(t, err)
	second, err := svc.PublishDraft(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, *first.ChannelMessageID, *second.ChannelMessageID)
	assert.Len(t, sink.published, 1, "repeat publish must not post twice")
}

func TestClaimOrder(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	username := "handyman"
	claimed, err := svc.ClaimOrder(ctx, order.ID, 200, &username)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, int64(200), *claimed.ClaimedBy)
	assert.Contains(t, sink.edited, order.ID)
}

func TestClaimOrderTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	_, err = svc.ClaimOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)

	_, err = svc.ClaimOrder(ctx, order.ID, 300, nil)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeOnlyNewClaimable))

	current, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), *current.ClaimedBy, "first claimer keeps the order")
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	svc, repository, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, order.ID, entity.StatusNew, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNew, updated.Status)

	entries, err := repository.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no-op must not append history")
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, order.ID, entity.StatusDone, 100, nil)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidTransition))
	assert.Equal(t, apperr.KindUnprocessableEntity, apperr.From(err).Kind())

	current, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNew, current.Status, "failed transition leaves the order untouched")
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.UpdateStatus(context.Background(), 1, entity.Status("SHIPPED"), 100, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.From(err).Kind())
}

func TestUpdateStatusFullLifecycle(t *testing.T) {
	svc, repository, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	_, err = svc.ClaimOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, order.ID, entity.StatusInProgress, 200, nil)
	require.NoError(t, err)
	done, err := svc.UpdateStatus(ctx, order.ID, entity.StatusDone, 200, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDone, done.Status)

	entries, err := repository.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, entity.StatusDone, entries[3].ToStatus)
}

func TestUpdateStatusDirectClaimAssignsActor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, order.ID, entity.StatusClaimed, 200, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.ClaimedBy)
	assert.Equal(t, int64(200), *updated.ClaimedBy)
}

func TestCancelClaimedOrderClearsClaimant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	username := "handyman"
	_, err = svc.ClaimOrder(ctx, order.ID, 200, &username)
	require.NoError(t, err)

	canceled, err := svc.UpdateStatus(ctx, order.ID, entity.StatusCanceled, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCanceled, canceled.Status)
	assert.Nil(t, canceled.ClaimedBy, "a canceled order has no claimant")
	assert.Nil(t, canceled.ClaimedByUsername)
}

func TestApplyForOrderIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	first, err := svc.ApplyForOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.ApplicationPending, first.Status)

	again, err := svc.ApplyForOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestApplyForMissingOrder(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ApplyForOrder(context.Background(), 999, 200, nil)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))
}

func TestApproveApplication(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	winner, err := svc.ApplyForOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)
	_, err = svc.ApplyForOrder(ctx, order.ID, 300, nil)
	require.NoError(t, err)

	claimed, err := svc.ApproveApplication(ctx, order.ID, winner.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusClaimed, claimed.Status)
	assert.Equal(t, int64(200), *claimed.ClaimedBy)
	assert.Contains(t, sink.edited, order.ID)

	apps, err := svc.Applications(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	for _, app := range apps {
		if app.ID == winner.ID {
			assert.Equal(t, entity.ApplicationApproved, app.Status)
		} else {
			assert.Equal(t, entity.ApplicationRejected, app.Status)
		}
	}
}

func TestApproveApplicationOnClaimedOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	app, err := svc.ApplyForOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)

	_, err = svc.ClaimOrder(ctx, order.ID, 300, nil)
	require.NoError(t, err)

	_, err = svc.ApproveApplication(ctx, order.ID, app.ID, 100)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeOnlyNewClaimable))

	apps, err := svc.Applications(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, entity.ApplicationPending, apps[0].Status, "failed approval leaves the application open")
}

func TestRejectApplication(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	app, err := svc.ApplyForOrder(ctx, order.ID, 200, nil)
	require.NoError(t, err)

	require.NoError(t, svc.RejectApplication(ctx, app.ID, 100))

	apps, err := svc.Applications(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, entity.ApplicationRejected, apps[0].Status)

	err = svc.RejectApplication(ctx, 999, 100)
	assert.True(t, apperr.HasCode(err, apperr.CodeApplicationNotFound))
}

func TestDeleteOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOrder(ctx, order.ID, 100))

	_, err = svc.Get(ctx, order.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))

	err = svc.DeleteOrder(ctx, order.ID, 100)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))
}

func TestListForUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	mine, err := svc.CreateOrder(ctx, createInput())
	require.NoError(t, err)

	other := createInput()
	other.CreatedBy = 700
	_, err = svc.CreateOrder(ctx, other)
	require.NoError(t, err)

	orders, err := svc.ListForUser(ctx, 100)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, mine.ID, orders[0].ID)
}

func TestHistoryRequiresExistingOrder(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.History(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))
}
