package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solexec/engine/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandleHealthOKWhenStorePings(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectPing()

	c := newTestContext(t, mock)
	api := NewAPIServer(c, zerolog.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleHealthUnhealthyWhenStorePingFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectPing().WillReturnError(assert.AnError)

	c := newTestContext(t, mock)
	api := NewAPIServer(c, zerolog.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleBreakersReturnsSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)
	api := NewAPIServer(c, zerolog.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/breakers", nil)
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "breakers")
}

func TestHandleQueueReturnsDepth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)
	api := NewAPIServer(c, zerolog.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["depth"])
}

func TestHandleCloseAllPositionsRoutesEachOpenPosition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)
	api := NewAPIServer(c, zerolog.Nop())

	now := time.Now()
	mock.ExpectQuery("SELECT token_mint, amount, entry_price_sol").
		WillReturnRows(pgxmock.NewRows([]string{
			"token_mint", "amount", "entry_price_sol", "entry_timestamp",
			"high_water_mark", "entry_trade_hash", "status", "updated_at",
		}).
			AddRow("TokenA", 1.0, 0.001, now, 0.0011, "hashA", store.PositionOpen, now).
			AddRow("TokenB", 2.0, 0.002, now, 0.0022, "hashB", store.PositionOpen, now))

	mock.ExpectQuery("INSERT INTO trades").
		WillReturnRows(pgxmock.NewRows([]string{"trade_id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO trades").
		WillReturnRows(pgxmock.NewRows([]string{"trade_id"}).AddRow(int64(2)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/positions/close-all", nil)
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["queued"])
	assert.Equal(t, float64(0), body["failed"])
	assert.Equal(t, 2, c.Queue.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}
