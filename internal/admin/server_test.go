package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"poscheck/internal/ledger"
	"poscheck/internal/ops"
	"poscheck/internal/orchestrator"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg, err := ops.Load("")
	require.NoError(t, err)
	cfg.BufferSize = 16
	cfg.WriterClass = "memory"
	cfg.LedgerStore = "memory"
	cfg.InboundJournalPath = filepath.Join(dir, "inbound")
	cfg.OutboundJournalPath = filepath.Join(dir, "outbound")

	svc, err := orchestrator.New(context.Background(), cfg, orchestrator.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return NewServer(":0", svc), svc
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLifecycleRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/stop", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/start", "").Code)
	require.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/start", "").Code)
	require.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/upload", `{"path":"/tmp/sod.json"}`).Code)

	rec := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status orchestrator.Status
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &status))
	require.True(t, status.Started)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/stop", "").Code)
}

func TestUploadAndMessages(t *testing.T) {
	s, svc := newTestServer(t)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/upload", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/upload", `{"path":"/no/such/file.json"}`).Code)

	path := filepath.Join(t.TempDir(), "sod.json")
	require.NoError(t, ledger.WriteSnapshot(path, ledger.Snapshot{Inventory: []schema.InventoryRecord{{Key: "AAPL", Quantity: 50}}}))
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/upload", `{"path":"`+path+`"}`).Code)

	require.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/messages", "CHECK=AAPL:5").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/start", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/messages", "garbage").Code)
	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/messages", "CHECK=AAPL:5").Code)

	require.Eventually(t, func() bool { return svc.Status().LedgerLastSeq == 1 }, 5*time.Second, 5*time.Millisecond)

	rec := do(t, s, http.MethodGet, "/inventory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var inv []schema.InventoryRecord
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &inv))
	require.Len(t, inv, 1)
	require.Equal(t, schema.Quantity(45), inv[0].Quantity)

	metrics := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "malformed_messages_total 1")
}

func TestInventoryRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/inventory", `{"quantity":1}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/inventory", `{"key":"A","quantity":-1}`).Code)

	rec := do(t, s, http.MethodPut, "/inventory", `{"key":"A","quantity":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got schema.InventoryRecord
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, schema.Quantity(7), got.Quantity)
	require.Equal(t, uint64(1), got.Version)

	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/inventory/A", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/inventory/A", "").Code)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPut, "/inventory", `{"key":"B","quantity":1}`).Code)
	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/inventory", "").Code)
	require.Equal(t, "[]", strings.TrimSpace(do(t, s, http.MethodGet, "/inventory", "").Body.String()))
}

func TestTogglePrimary(t *testing.T) {
	s, svc := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/primary/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"primary":false}`, rec.Body.String())
	require.False(t, svc.Status().Primary)
}

// stubService answers every mutating call with err.
type stubService struct {
	Service
	err error
}

func (f stubService) OnMessage(context.Context, string) error { return f.err }

func (f stubService) DeleteInventory(context.Context, string) error { return f.err }

func TestErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not started", exception.ErrNotStarted, http.StatusConflict},
		{"wrapped not found", errors.Wrap(exception.ErrInventoryNotFound, "delete inventory").With("key", "A"), http.StatusNotFound},
		{"wrapped malformed", errors.Wrap(exception.ErrMalformedMessage, "parse text"), http.StatusBadRequest},
		{"queue closed", exception.ErrQueueClosed, http.StatusServiceUnavailable},
		{"halted", errors.Wrap(exception.ErrHalted, "push"), http.StatusServiceUnavailable},
		{"unclassified", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(":0", stubService{err: tc.err})
			require.Equal(t, tc.code, do(t, s, http.MethodPost, "/messages", "CHECK=A:1").Code)
			require.Equal(t, tc.code, do(t, s, http.MethodDelete, "/inventory/A", "").Code)
		})
	}
}
