package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ErrEmptyMessage is returned for blank input; nothing is sent.
var ErrEmptyMessage = errors.New("message cannot be empty")

// Status tracks a local message through the send cycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Message is the local copy of a chat message.
type Message struct {
	Content   string
	IsUser    bool
	Timestamp time.Time
	Status    Status

	local uint64
}

// Conversation is the client-side view of one session. User messages show up
// as pending before the relay answers; a failed turn stays in the list.
type Conversation struct {
	client *Client
	creds  CredentialStore
	now    func() time.Time

	mu         sync.Mutex
	sessionID  string
	messages   []Message
	nextLocal  uint64
	generation uint64
}

// NewConversation starts an empty conversation. creds may be nil.
func NewConversation(client *Client, creds CredentialStore) *Conversation {
	if creds == nil {
		creds = NewMemoryCredentialStore("")
	}
	return &Conversation{
		client: client,
		creds:  creds,
		now:    time.Now,
	}
}

// SessionID returns the relay session, or "" before the first reply.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages returns a snapshot of the local transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Send relays text and returns the assistant reply. When the relay refuses
// the credential the cached key is dropped and the error wraps
// ErrCredentialRejected.
func (c *Conversation) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	credential, err := c.creds.Load()
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	c.nextLocal++
	local := c.nextLocal
	generation := c.generation
	sessionID := c.sessionID
	c.messages = append(c.messages, Message{
		Content:   text,
		IsUser:    true,
		Timestamp: c.now(),
		Status:    StatusPending,
		local:     local,
	})
	c.mu.Unlock()

	resp, sendErr := c.client.SendMessage(ctx, SendRequest{
		Message:   text,
		SessionID: sessionID,
		APIKey:    credential,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	stale := generation != c.generation

	if sendErr != nil {
		c.setStatus(local, StatusFailed)

		var apiErr *APIError
		if !errors.As(sendErr, &apiErr) {
			return Message{}, sendErr
		}
		// The relay may have opened a session before failing.
		if !stale && apiErr.SessionID != "" {
			c.sessionID = apiErr.SessionID
		}
		if apiErr.IsCredentialError() {
			if err := c.creds.Clear(); err != nil {
				return Message{}, errors.Join(fmt.Errorf("%w: %s", ErrCredentialRejected, apiErr.Message), err)
			}
			return Message{}, fmt.Errorf("%w: %s", ErrCredentialRejected, apiErr.Message)
		}
		return Message{}, sendErr
	}

	reply := Message{
		Content:   resp.Response,
		IsUser:    false,
		Timestamp: c.now(),
		Status:    StatusConfirmed,
	}
	if stale {
		return reply, nil
	}

	c.setStatus(local, StatusConfirmed)
	c.nextLocal++
	reply.local = c.nextLocal
	c.messages = append(c.messages, reply)
	c.sessionID = resp.SessionID
	return reply, nil
}

// Load replaces the local transcript with the relay's copy of sessionID.
func (c *Conversation) Load(ctx context.Context, sessionID string) error {
	history, err := c.client.History(ctx, sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.sessionID = history.SessionID
	c.messages = lo.Map(history.Messages, func(m HistoryMessage, _ int) Message {
		c.nextLocal++
		return Message{
			Content:   m.Content,
			IsUser:    m.IsUser,
			Timestamp: m.Timestamp,
			Status:    StatusConfirmed,
			local:     c.nextLocal,
		}
	})
	return nil
}

// Reset deletes the session on the relay and empties the local state.
// Local state is kept when the relay call fails.
func (c *Conversation) Reset(ctx context.Context) error {
	sessionID := c.SessionID()
	if sessionID != "" {
		if err := c.client.Clear(ctx, sessionID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.sessionID = ""
	c.messages = nil
	return nil
}

func (c *Conversation) setStatus(local uint64, status Status) {
	for i := range c.messages {
		if c.messages[i].local == local {
			c.messages[i].Status = status
			return
		}
	}
}
