package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/zhouzirui/taptalk/backend/internal/model/chat"
)

const (
	sessionKeyPrefix = "conv:"
	messageKeyPrefix = "msg:"
	ordinalSeqKey    = "seq:message"
	ordinalBandwidth = 128
)

// BadgerStore keeps conversations in an in-memory badger instance. Keys are
// laid out as "conv:{session}" and "msg:{session}:{ordinal}" with a 20-digit
// zero padded ordinal so a prefix scan yields append order. A positive ttl is
// applied to every key and refreshed whenever the session is touched.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	ttl time.Duration
	now func() time.Time

	// writes are read-modify-write; serializing them avoids txn conflicts.
	writeMu sync.Mutex
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens an in-memory badger database.
func NewBadgerStore(ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(ordinalSeqKey), ordinalBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}

	return &BadgerStore{
		db:  db,
		seq: seq,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateSession provisions a new session with a random identifier.
func (s *BadgerStore) CreateSession(_ context.Context) (chat.Session, error) {
	now := s.now()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var session chat.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		for {
			session = chat.Session{ID: uuid.NewString(), CreatedAt: now, LastActive: now}
			_, err := txn.Get(sessionKey(session.ID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				break
			}
			if err != nil {
				return err
			}
		}
		return s.putJSON(txn, sessionKey(session.ID), session)
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *BadgerStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = getSession(txn, sessionID)
		return err
	})
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// TouchSession bumps LastActive to now and refreshes key ttls.
func (s *BadgerStore) TouchSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var session chat.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		session, err = s.touch(txn, sessionID, s.now())
		return err
	})
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// AppendMessage stores a message under the next ordinal and touches the session.
func (s *BadgerStore) AppendMessage(_ context.Context, sessionID, content string, isUser bool) (chat.Message, error) {
	if content == "" {
		return chat.Message{}, ErrEmptyContent
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var message chat.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		session, err := getSession(txn, sessionID)
		if err != nil {
			return err
		}

		stamp := s.now()
		if session.LastActive.After(stamp) {
			stamp = session.LastActive
		}

		ordinal, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("next ordinal: %w", err)
		}

		message = chat.Message{
			ID:        ordinal + 1,
			SessionID: sessionID,
			Content:   content,
			IsUser:    isUser,
			Timestamp: stamp,
		}
		if err := s.putJSON(txn, messageKey(sessionID, message.ID), message); err != nil {
			return err
		}

		_, err = s.touch(txn, sessionID, stamp)
		return err
	})
	if err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// ListMessages scans the session prefix and returns the ordered transcript.
func (s *BadgerStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	messages := make([]chat.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanMessages(txn, sessionID, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				var message chat.Message
				if err := json.Unmarshal(val, &message); err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
	return messages, nil
}

// DeleteSession removes the session key and its message prefix.
func (s *BadgerStore) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err == nil {
			existed = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		keys := [][]byte{sessionKey(sessionID)}
		err := scanMessages(txn, sessionID, func(item *badger.Item) error {
			keys = append(keys, item.KeyCopy(nil))
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return existed, nil
}

// Close releases the ordinal lease and closes the database.
func (s *BadgerStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

func (s *BadgerStore) touch(txn *badger.Txn, sessionID string, now time.Time) (chat.Session, error) {
	session, err := getSession(txn, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if now.After(session.LastActive) {
		session.LastActive = now
	}
	if err := s.putJSON(txn, sessionKey(sessionID), session); err != nil {
		return chat.Session{}, err
	}
	if s.ttl <= 0 {
		return session, nil
	}

	type pending struct {
		key, val []byte
	}
	var refresh []pending
	err = scanMessages(txn, sessionID, func(item *badger.Item) error {
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		refresh = append(refresh, pending{key: item.KeyCopy(nil), val: val})
		return nil
	})
	if err != nil {
		return chat.Session{}, err
	}
	for _, p := range refresh {
		if err := txn.SetEntry(badger.NewEntry(p.key, p.val).WithTTL(s.ttl)); err != nil {
			return chat.Session{}, err
		}
	}
	return session, nil
}

func (s *BadgerStore) putJSON(txn *badger.Txn, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(key, raw)
	if s.ttl > 0 {
		entry = entry.WithTTL(s.ttl)
	}
	return txn.SetEntry(entry)
}

func getSession(txn *badger.Txn, sessionID string) (chat.Session, error) {
	item, err := txn.Get(sessionKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}

	var session chat.Session
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	})
	return session, err
}

// scanMessages visits every message item of a session in key order. The
// iterator is closed before it returns so callers may write afterwards.
func scanMessages(txn *badger.Txn, sessionID string, fn func(item *badger.Item) error) error {
	prefix := messagePrefix(sessionID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionKeyPrefix + sessionID)
}

func messagePrefix(sessionID string) []byte {
	return []byte(messageKeyPrefix + sessionID + ":")
}

func messageKey(sessionID string, ordinal uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", messageKeyPrefix, sessionID, ordinal))
}
