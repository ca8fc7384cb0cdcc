package content

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docassist/docassist-api/internal/analysis"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetch(t *testing.T) {
	t.Parallel()

	t.Run("returns body on 200", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("%PDF-1.7 fake"))
		}))
		defer srv.Close()

		body, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.7 fake"), body)
	})

	t.Run("404 is content not found", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/missing.pdf")
		assert.ErrorIs(t, err, analysis.ErrContentNotFound)
	})

	t.Run("410 is content not found", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer srv.Close()

		_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
		assert.ErrorIs(t, err, analysis.ErrContentNotFound)
	})

	t.Run("server errors are transient", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
		assert.ErrorIs(t, err, analysis.ErrTransient)
	})

	t.Run("connection failure is transient", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // nothing listening anymore

		_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
		assert.ErrorIs(t, err, analysis.ErrTransient)
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(w, strings.NewReader(strings.Repeat("x", 128)))
		}))
		defer srv.Close()

		f := newTestFetcher()
		f.maxBodyBytes = 64

		_, err := f.Fetch(context.Background(), srv.URL)
		assert.ErrorIs(t, err, analysis.ErrContentRejected)
	})

	t.Run("malformed reference is content not found", func(t *testing.T) {
		t.Parallel()
		_, err := newTestFetcher().Fetch(context.Background(), "://not-a-url")
		assert.ErrorIs(t, err, analysis.ErrContentNotFound)
	})

	t.Run("canceled context passes through", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestFetcher().Fetch(ctx, srv.URL)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
