//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/taptalk/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyContent    = errors.New("message content is empty")
)

// Store owns every Session and Message record. Implementations return copies
// and must be safe for concurrent use.
type Store interface {
	CreateSession(ctx context.Context) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	TouchSession(ctx context.Context, sessionID string) (chat.Session, error)
	// AppendMessage fails with ErrSessionNotFound for unknown sessions.
	AppendMessage(ctx context.Context, sessionID, content string, isUser bool) (chat.Message, error)
	// ListMessages returns the transcript ordered by timestamp, then ordinal.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
	Close() error
}
