package completion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/taptalk/backend/internal/logger"
)

const testKey = "test-key"

func newFakeGemini(t *testing.T, handler http.HandlerFunc) (*GeminiGateway, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	gw := NewGeminiGateway(GeminiConfig{
		Model:      "gemini-test",
		BaseURL:    srv.URL + "/",
		APIVersion: "v1beta",
		Timeout:    2 * time.Second,
	}, logger.New("error"))
	return gw, &calls
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGeminiCompleteReturnsFirstPart(t *testing.T) {
	req := require.New(t)
	var gotKey string
	gw, calls := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		if gotKey == "" {
			gotKey = r.URL.Query().Get("key")
		}
		writeJSON(w, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi there"}]}}]}`)
	})

	text, err := gw.Complete(context.Background(), "Hello", testKey)
	req.NoError(err)
	req.Equal("Hi there", text)
	req.Equal(testKey, gotKey)
	req.EqualValues(1, calls.Load())
}

func TestGeminiCompleteMissingCredential(t *testing.T) {
	gw, calls := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	_, err := gw.Complete(context.Background(), "Hello", "  ")
	require.ErrorIs(t, err, ErrMissingCredential)
	require.Zero(t, calls.Load())
}

func TestGeminiCompleteStructuredError(t *testing.T) {
	req := require.New(t)
	gw, calls := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid. Please pass a valid API key.","status":"PERMISSION_DENIED"}}`)
	})

	_, err := gw.Complete(context.Background(), "Hello", testKey)
	var upstream *UpstreamError
	req.True(errors.As(err, &upstream))
	req.Equal(http.StatusForbidden, upstream.StatusCode)
	req.Equal("API key not valid. Please pass a valid API key.", upstream.Message)
	req.EqualValues(1, calls.Load())
}

func TestGeminiCompletePlainTextError(t *testing.T) {
	req := require.New(t)
	gw, _ := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad things happened"))
	})

	_, err := gw.Complete(context.Background(), "Hello", testKey)
	var upstream *UpstreamError
	req.True(errors.As(err, &upstream))
	req.Equal(http.StatusBadRequest, upstream.StatusCode)
	req.Contains(upstream.Message, "bad things happened")
}

func TestGeminiCompleteMalformedResponse(t *testing.T) {
	for name, body := range map[string]string{
		"no candidates": `{"candidates":[]}`,
		"no content":    `{"candidates":[{"finishReason":"SAFETY"}]}`,
		"no parts":      `{"candidates":[{"content":{"role":"model","parts":[]}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			gw, _ := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, body)
			})

			_, err := gw.Complete(context.Background(), "Hello", testKey)
			require.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestGeminiCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	gw, _ := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	gw.cfg.Timeout = 50 * time.Millisecond

	_, err := gw.Complete(context.Background(), "Hello", testKey)
	require.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestGeminiCompleteIgnoresCallerCancellation(t *testing.T) {
	gw, _ := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"still answered"}]}}]}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text, err := gw.Complete(ctx, "Hello", testKey)
	require.NoError(t, err)
	require.Equal(t, "still answered", text)
}

func TestGeminiCompleteErrorBodyWithoutErrorObject(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   string
	}{
		"bare message": {http.StatusServiceUnavailable, `{"message":"upstream overloaded"}`, `{"message":"upstream overloaded"}`},
		"empty object": {http.StatusInternalServerError, `{}`, `{}`},
		"null error":   {http.StatusBadGateway, `{"error":null}`, `{"error":null}`},
		"string error": {http.StatusBadRequest, `{"error":"API key expired"}`, `{"error":"API key expired"}`},
		"empty body":   {http.StatusTooManyRequests, ``, http.StatusText(http.StatusTooManyRequests)},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			gw, _ := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})

			_, err := gw.Complete(context.Background(), "Hello", testKey)
			var upstream *UpstreamError
			req.True(errors.As(err, &upstream), "got %v", err)
			req.Equal(tc.status, upstream.StatusCode)
			req.Equal(tc.want, upstream.Message)
		})
	}
}

func TestGeminiCompleteHTMLErrorPage(t *testing.T) {
	req := require.New(t)
	gw, _ := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	})

	_, err := gw.Complete(context.Background(), "Hello", testKey)
	var upstream *UpstreamError
	req.True(errors.As(err, &upstream))
	req.Equal(http.StatusBadGateway, upstream.StatusCode)
	req.Equal("<html><body>502 Bad Gateway</body></html>", upstream.Message)
}
