package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/zhouzirui/taptalk/backend/internal/logger"
	"github.com/zhouzirui/taptalk/backend/internal/model/chat"
	"github.com/zhouzirui/taptalk/backend/internal/service/completion"
	"github.com/zhouzirui/taptalk/backend/internal/store"
)

// Options tunes session resolution and credential fallback.
type Options struct {
	// DefaultCredential is used when a request carries no credential.
	DefaultCredential string
	// RejectUnknownSessions makes a supplied but unknown session id fail
	// with ErrSessionNotFound instead of starting a new conversation.
	RejectUnknownSessions bool
}

// Service orchestrates one chat turn over the store and the completion
// gateway. It keeps no state of its own.
type Service struct {
	store     store.Store
	completer completion.Completer
	opts      Options
	log       logger.Logger
}

func NewService(st store.Store, completer completion.Completer, opts Options, log logger.Logger) *Service {
	return &Service{
		store:     st,
		completer: completer,
		opts:      opts,
		log:       log,
	}
}

// SendRequest is a single user turn.
type SendRequest struct {
	Message    string
	SessionID  string
	Credential string
}

// SendResult carries the assistant reply and the effective session id.
type SendResult struct {
	Text      string
	SessionID string
}

// Send records the user turn, asks the gateway for a reply and records it.
// A gateway failure leaves the user turn in place and returns an *Error
// holding the session id; no assistant turn is recorded in that case.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.Message == "" {
		return SendResult{}, &Error{Kind: KindValidation, Cause: ErrMessageRequired}
	}

	session, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		return SendResult{}, newError(err, "")
	}

	if _, err := s.store.AppendMessage(ctx, session.ID, req.Message, true); err != nil {
		return SendResult{}, newError(err, session.ID)
	}

	credential := s.credential(req.Credential)
	if credential == "" {
		s.log.Warnf("[chat] no credential for session=%s", session.ID)
		return SendResult{}, &Error{Kind: KindCredential, SessionID: session.ID, Cause: ErrNoCredentialConfigured}
	}

	text, err := s.completer.Complete(ctx, req.Message, credential)
	if err != nil {
		chatErr := newError(err, session.ID)
		s.log.Errorf("[chat] completion failed session=%s kind=%s: %v", session.ID, chatErr.Kind, err)
		return SendResult{}, chatErr
	}

	reply, err := s.store.AppendMessage(ctx, session.ID, text, false)
	if err != nil {
		// The session was resolved above, so losing it now is a server fault.
		s.log.Errorf("[chat] record reply session=%s: %v", session.ID, err)
		return SendResult{}, &Error{Kind: KindInternal, SessionID: session.ID, Cause: err}
	}

	s.log.Debugf("[chat] session=%s turn recorded message=%d", session.ID, reply.ID)
	return SendResult{Text: reply.Content, SessionID: session.ID}, nil
}

// History returns the session and its ordered transcript.
func (s *Service) History(ctx context.Context, sessionID string) (chat.Session, []chat.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, newError(err, "")
	}

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, newError(err, sessionID)
	}
	return session, messages, nil
}

// Clear deletes the session and its transcript. Unknown sessions are not an error.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	existed, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return newError(err, sessionID)
	}
	if existed {
		s.log.Infof("[chat] session=%s cleared", sessionID)
	}
	return nil
}

func (s *Service) resolveSession(ctx context.Context, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return s.store.CreateSession(ctx)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		return session, nil
	case !errors.Is(err, store.ErrSessionNotFound):
		return chat.Session{}, err
	case s.opts.RejectUnknownSessions:
		return chat.Session{}, err
	}

	session, err = s.store.CreateSession(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	s.log.Infof("[chat] unknown session=%s replaced by session=%s", sessionID, session.ID)
	return session, nil
}

func (s *Service) credential(requested string) string {
	if c := strings.TrimSpace(requested); c != "" {
		return c
	}
	return strings.TrimSpace(s.opts.DefaultCredential)
}
