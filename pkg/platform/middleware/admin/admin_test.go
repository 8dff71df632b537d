package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	cases := []struct {
		name     string
		expected string
		sent     string
		want     int
	}{
		{"match", "s3cret", "s3cret", http.StatusAccepted},
		{"mismatch", "s3cret", "guess", http.StatusUnauthorized},
		{"disabled when unset", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
			r.Header.Set("X-Admin-Token", tc.sent)
			RequireAdminToken(tc.expected, logger)(next).ServeHTTP(w, r)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
