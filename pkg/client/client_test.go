package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRelay mimics the /api/chat contract with a scripted reply.
type fakeRelay struct {
	mu       sync.Mutex
	requests []SendRequest
	cleared  []string
	reply    func(req SendRequest) (int, any)
	history  map[string]HistoryResponse
}

func (f *fakeRelay) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		status, body := f.reply(req)
		writeJSON(w, status, body)
	})
	mux.HandleFunc("GET /api/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		h, ok := f.history[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Conversation not found"})
			return
		}
		writeJSON(w, http.StatusOK, h)
	})
	mux.HandleFunc("DELETE /api/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cleared = append(f.cleared, r.PathValue("id"))
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})
	return mux
}

func (f *fakeRelay) sent() []SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendRequest(nil), f.requests...)
}

func (f *fakeRelay) clearedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleared...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func setupRelay(t *testing.T, reply func(req SendRequest) (int, any)) (*Client, *fakeRelay) {
	t.Helper()
	relay := &fakeRelay{reply: reply, history: map[string]HistoryResponse{}}
	srv := httptest.NewServer(relay.handler())
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Timeout: 5 * time.Second}), relay
}

func TestSendMessage(t *testing.T) {
	req := require.New(t)
	c, relay := setupRelay(t, func(r SendRequest) (int, any) {
		return http.StatusOK, SendResponse{Response: "Hi there", SessionID: "s1"}
	})

	out, err := c.SendMessage(context.Background(), SendRequest{Message: "Hello", APIKey: "k"})
	req.NoError(err)
	req.Equal("Hi there", out.Response)
	req.Equal("s1", out.SessionID)
	req.Equal([]SendRequest{{Message: "Hello", APIKey: "k"}}, relay.sent())
}

func TestSendMessageAPIError(t *testing.T) {
	req := require.New(t)
	c, _ := setupRelay(t, func(r SendRequest) (int, any) {
		return http.StatusInternalServerError, map[string]any{
			"error":     "Failed to generate AI response",
			"details":   "The model is overloaded.",
			"sessionId": "s1",
		}
	})

	_, err := c.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	var apiErr *APIError
	req.True(errors.As(err, &apiErr))
	req.Equal(http.StatusInternalServerError, apiErr.StatusCode)
	req.Equal("Failed to generate AI response", apiErr.Message)
	req.Equal("The model is overloaded.", apiErr.Details)
	req.Equal("s1", apiErr.SessionID)
	req.False(apiErr.IsCredentialError())
}

func TestHistoryAndClear(t *testing.T) {
	req := require.New(t)
	c, relay := setupRelay(t, nil)
	stamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	relay.history["s1"] = HistoryResponse{SessionID: "s1", Messages: []HistoryMessage{
		{ID: 1, Content: "Hello", IsUser: true, Timestamp: stamp},
		{ID: 2, Content: "Hi there", Timestamp: stamp},
	}}

	history, err := c.History(context.Background(), "s1")
	req.NoError(err)
	req.Equal(relay.history["s1"], history)

	_, err = c.History(context.Background(), "missing")
	var apiErr *APIError
	req.True(errors.As(err, &apiErr))
	req.Equal(http.StatusNotFound, apiErr.StatusCode)
	req.Equal("Conversation not found", apiErr.Message)

	req.NoError(c.Clear(context.Background(), "s1"))
	req.Equal([]string{"s1"}, relay.clearedIDs())
}

func TestValidateCredential(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "good" {
			writeJSON(w, http.StatusOK, map[string]any{"models": []any{}})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": 400, "message": "API key not valid. Please pass a valid API key."},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Options{ValidationURL: srv.URL})
	ctx := context.Background()

	require.NoError(t, c.ValidateCredential(ctx, "good"))

	err := c.ValidateCredential(ctx, "bad")
	require.ErrorIs(t, err, ErrCredentialRejected)
	require.Contains(t, err.Error(), "API key not valid")

	require.ErrorIs(t, c.ValidateCredential(ctx, "  "), ErrCredentialRejected)
}

func TestConversationSendSuccess(t *testing.T) {
	req := require.New(t)
	c, relay := setupRelay(t, func(r SendRequest) (int, any) {
		return http.StatusOK, SendResponse{Response: "echo: " + r.Message, SessionID: "s1"}
	})
	conv := NewConversation(c, NewMemoryCredentialStore("k"))
	ctx := context.Background()

	reply, err := conv.Send(ctx, "Hello")
	req.NoError(err)
	req.Equal("echo: Hello", reply.Content)
	req.Equal("s1", conv.SessionID())

	_, err = conv.Send(ctx, "again")
	req.NoError(err)
	seen := relay.sent()
	req.Len(seen, 2)
	req.Equal("", seen[0].SessionID)
	req.Equal("s1", seen[1].SessionID)
	req.Equal("k", seen[1].APIKey)

	messages := conv.Messages()
	req.Len(messages, 4)
	for _, m := range messages {
		req.Equal(StatusConfirmed, m.Status)
	}
	req.True(messages[0].IsUser)
	req.False(messages[1].IsUser)
}

func TestConversationSendPendingWhileInFlight(t *testing.T) {
	req := require.New(t)
	release := make(chan struct{})
	c, _ := setupRelay(t, func(r SendRequest) (int, any) {
		<-release
		return http.StatusOK, SendResponse{Response: "Hi", SessionID: "s1"}
	})
	conv := NewConversation(c, NewMemoryCredentialStore("k"))

	done := make(chan error, 1)
	go func() {
		_, err := conv.Send(context.Background(), "Hello")
		done <- err
	}()

	req.Eventually(func() bool {
		messages := conv.Messages()
		return len(messages) == 1 && messages[0].Status == StatusPending
	}, time.Second, 5*time.Millisecond)

	close(release)
	req.NoError(<-done)
	req.Equal(StatusConfirmed, conv.Messages()[0].Status)
}

func TestConversationSendFailureKeepsMessage(t *testing.T) {
	req := require.New(t)
	c, _ := setupRelay(t, func(r SendRequest) (int, any) {
		return http.StatusInternalServerError, map[string]any{
			"error":     "Failed to generate AI response",
			"sessionId": "s1",
		}
	})
	creds := NewMemoryCredentialStore("k")
	conv := NewConversation(c, creds)

	_, err := conv.Send(context.Background(), "Hello")
	req.Error(err)
	req.NotErrorIs(err, ErrCredentialRejected)

	messages := conv.Messages()
	req.Len(messages, 1)
	req.Equal(StatusFailed, messages[0].Status)
	req.Equal("s1", conv.SessionID())

	cached, err := creds.Load()
	req.NoError(err)
	req.Equal("k", cached)
}

func TestConversationCredentialRejectedClearsCache(t *testing.T) {
	req := require.New(t)
	c, _ := setupRelay(t, func(r SendRequest) (int, any) {
		return http.StatusUnauthorized, map[string]any{
			"error":     "Invalid or missing API key. Please check your API key and try again.",
			"sessionId": "s1",
		}
	})
	creds := NewMemoryCredentialStore("stale-key")
	conv := NewConversation(c, creds)

	_, err := conv.Send(context.Background(), "Hello")
	req.ErrorIs(err, ErrCredentialRejected)

	cached, err := creds.Load()
	req.NoError(err)
	req.Empty(cached)
	req.Equal(StatusFailed, conv.Messages()[0].Status)
}

func TestConversationRejectsBlankInput(t *testing.T) {
	c, relay := setupRelay(t, nil)
	conv := NewConversation(c, nil)

	_, err := conv.Send(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, conv.Messages())
	require.Empty(t, relay.sent())
}

func TestConversationLoadAndReset(t *testing.T) {
	req := require.New(t)
	c, relay := setupRelay(t, nil)
	relay.history["s1"] = HistoryResponse{SessionID: "s1", Messages: []HistoryMessage{
		{ID: 1, Content: "Hello", IsUser: true},
		{ID: 2, Content: "Hi there"},
	}}
	conv := NewConversation(c, nil)
	ctx := context.Background()

	req.NoError(conv.Load(ctx, "s1"))
	req.Equal("s1", conv.SessionID())
	messages := conv.Messages()
	req.Len(messages, 2)
	req.Equal("Hi there", messages[1].Content)
	req.Equal(StatusConfirmed, messages[1].Status)

	req.NoError(conv.Reset(ctx))
	req.Empty(conv.SessionID())
	req.Empty(conv.Messages())
	req.Equal([]string{"s1"}, relay.clearedIDs())

	// Nothing to clear on the relay for a fresh conversation.
	req.NoError(conv.Reset(ctx))
	req.Len(relay.clearedIDs(), 1)
}

func TestFileCredentialStore(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "nested", "key")
	s := NewFileCredentialStore(path)

	cached, err := s.Load()
	req.NoError(err)
	req.Empty(cached)

	req.NoError(s.Save("  secret  "))
	cached, err = s.Load()
	req.NoError(err)
	req.Equal("secret", cached)

	info, err := os.Stat(path)
	req.NoError(err)
	req.Equal(os.FileMode(0o600), info.Mode().Perm())

	req.NoError(s.Clear())
	req.NoError(s.Clear())
	cached, err = s.Load()
	req.NoError(err)
	req.Empty(cached)
}
