package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/handler/mocks"
	"certledger/internal/certificate/reconcile"
	dErrors "certledger/pkg/domain-errors"
)

func newReconcileRouter(t *testing.T) (chi.Router, *mocks.MockSweeper) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sweeper := mocks.NewMockSweeper(ctrl)
	r := chi.NewRouter()
	NewReconcile(sweeper, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, sweeper
}

func TestHandleReconcile(t *testing.T) {
	t.Run("returns the sweep report", func(t *testing.T) {
		r, sweeper := newReconcileRouter(t)
		sweeper.EXPECT().Run(gomock.Any()).Return(&reconcile.SweepReport{LedgerConfirmed: 2, RequestsLinked: 1}, nil)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ledger_confirmed":2`)
	})

	t.Run("partial sweep still reports", func(t *testing.T) {
		r, sweeper := newReconcileRouter(t)
		sweeper.EXPECT().Run(gomock.Any()).Return(&reconcile.SweepReport{Failures: 1}, errors.New("list approved requests: timeout"))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"failures":1`)
	})

	t.Run("concurrent sweep conflicts", func(t *testing.T) {
		r, sweeper := newReconcileRouter(t)
		sweeper.EXPECT().Run(gomock.Any()).Return(nil, reconcile.ErrSweepInProgress)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil))

		require.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), string(dErrors.CodeConflict))
	})
}
