package order_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
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
	transport "github.com/orderdeck/orderdeck/internal/transport/http/order"
)

type stubSink struct{}

func (stubSink) Publish(_ context.Context, _ *entity.Order) (int64, bool) { return 0, false }
func (stubSink) Edit(_ context.Context, _ *entity.Order) bool             { return true }

func newTestServer(t *testing.T) *echo.Echo {
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

	svc := service.NewService(service.Params{
		Repository: repo.NewRepository(&database.Connections{Writer: db, Reader: db}),
		Sink:       stubSink{},
		Config:     config.Config{},
		Logger:     zap.NewNop(),
	})

	e := echo.New()
	transport.Register(e, transport.NewHandler(svc))
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string `json:"kind"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestCreateOrderEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/orders",
		`{"title":"Mow the lawn","content":"Front and back","created_by":100}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var order struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.NotZero(t, order.ID)
	assert.Equal(t, "NEW", order.Status)
}

func TestCreateOrderEndpointRejectsEmptyTitle(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/orders", `{"content":"no title","created_by":100}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "bad_request", env.Error.Kind)
}

func TestGetOrderNotFound(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodGet, "/orders/999", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "order_not_found", env.Error.Code)
}

func TestClaimEndpointConflictOnSecondClaim(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/orders",
		`{"title":"Mow the lawn","content":"Front and back","created_by":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/orders/1/claim", `{"actor_id":200}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/orders/1/claim", `{"actor_id":300}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "only_NEW_can_be_claimed", env.Error.Code)
}

func TestStatusEndpointRejectsInvalidTransition(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/orders",
		`{"title":"Mow the lawn","content":"Front and back","created_by":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/orders/1/status", `{"status":"DONE","actor_id":100}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "invalid_transition", env.Error.Code)
}

func TestApplicationReviewFlow(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/orders",
		`{"title":"Mow the lawn","content":"Front and back","created_by":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/orders/1/applications", `{"applicant_id":200}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)

	var app struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &app))

	rec = doJSON(t, e, http.MethodPost, "/orders/1/applications/1/approve", `{"approver_id":100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	env = decodeEnvelope(t, rec)

	var order struct {
		Status    string `json:"status"`
		ClaimedBy *int64 `json:"claimed_by"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, "CLAIMED", order.Status)
	require.NotNil(t, order.ClaimedBy)
	assert.Equal(t, int64(200), *order.ClaimedBy)
}

func TestHistoryEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/orders",
		`{"title":"Mow the lawn","content":"Front and back","created_by":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/orders/1/claim", `{"actor_id":200}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/orders/1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var entries []struct {
		FromStatus *string `json:"from_status"`
		ToStatus   string  `json:"to_status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].FromStatus)
	assert.Equal(t, "NEW", entries[0].ToStatus)
	assert.Equal(t, "CLAIMED", entries[1].ToStatus)
}
