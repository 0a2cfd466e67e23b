package storage

import (
	"encoding"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatify/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	bucketKV = []byte("kv")
)

const (
	KeyIdentity       = "chat_username"
	KeySelectedPeer   = "chat_selected_user"
	messagesKeyPrefix = "chat_messages_"
)

// MessagesKey is the key of the conversation log owned by identity.
func MessagesKey(identity string) string {
	return messagesKeyPrefix + identity
}

// BboltStorage is the client's local key-value store. Every operation is
// best-effort: failures are logged and reported as a false or empty result.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// Save stores v under key.
func (s *BboltStorage) Save(key string, v any) bool {
	data, err := marshal(v)
	if err != nil {
		slog.Error("failed to encode value", "key", key, "error", err)
		return false
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), data)
	})
	if err != nil {
		slog.Error("failed to save value", "key", key, "error", err)
		return false
	}
	return true
}

// Load decodes the value stored under key into v. It reports false when the
// key is absent or the value cannot be read.
func (s *BboltStorage) Load(key string, v any) bool {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketKV).Get([]byte(key))
		if raw == nil {
			return models.ErrNotFound
		}
		// bbolt memory is only valid inside the transaction.
		data = append([]byte(nil), raw...)
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		return false
	}
	if err != nil {
		slog.Error("failed to load value", "key", key, "error", err)
		return false
	}

	if err := unmarshal(data, v); err != nil {
		slog.Error("failed to decode value", "key", key, "error", err)
		return false
	}
	return true
}

func (s *BboltStorage) Delete(key string) bool {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
	if err != nil {
		slog.Error("failed to delete value", "key", key, "error", err)
		return false
	}
	return true
}

func (s *BboltStorage) put(rec Storeable) bool {
	return s.Save(string(rec.Key()), rec)
}

func (s *BboltStorage) SaveIdentity(identity string) bool {
	return s.put(&DBIdentity{Identity: identity})
}

func (s *BboltStorage) LoadIdentity() (string, bool) {
	var rec DBIdentity
	if !s.Load(KeyIdentity, &rec) || rec.Identity == "" {
		return "", false
	}
	return rec.Identity, true
}

// SaveSelectedPeer stores the open conversation; nil clears it.
func (s *BboltStorage) SaveSelectedPeer(peer *models.Peer) bool {
	if peer == nil {
		return s.Delete(KeySelectedPeer)
	}
	return s.put(&DBPeer{Identity: peer.Identity, Handle: peer.Handle})
}

func (s *BboltStorage) LoadSelectedPeer() (*models.Peer, bool) {
	var rec DBPeer
	if !s.Load(KeySelectedPeer, &rec) || rec.Identity == "" {
		return nil, false
	}
	return &models.Peer{Identity: rec.Identity, Handle: rec.Handle}, true
}

func (s *BboltStorage) SaveConversationLog(identity string, log map[string][]models.Message) bool {
	if identity == "" {
		return false
	}
	rec := &DBConversationLog{
		Identity: identity,
		Peers:    make(map[string][]DBMessage, len(log)),
	}
	for peer, messages := range log {
		dbMessages := make([]DBMessage, len(messages))
		for i, m := range messages {
			dbMessages[i] = toDBMessage(m)
		}
		rec.Peers[peer] = dbMessages
	}
	return s.put(rec)
}

// LoadConversationLog returns the stored log of identity, or an empty log.
// Messages repeated under the same peer are loaded once.
func (s *BboltStorage) LoadConversationLog(identity string) map[string][]models.Message {
	log := make(map[string][]models.Message)
	if identity == "" {
		return log
	}

	var rec DBConversationLog
	if !s.Load(MessagesKey(identity), &rec) {
		return log
	}

	for peer, dbMessages := range rec.Peers {
		seen := make(map[string]bool, len(dbMessages))
		messages := make([]models.Message, 0, len(dbMessages))
		for _, m := range dbMessages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			messages = append(messages, fromDBMessage(m))
		}
		log[peer] = messages
	}
	return log
}

// ClearSession forgets the local identity and selected peer. Conversation logs are kept.
func (s *BboltStorage) ClearSession() bool {
	ok := s.Delete(KeyIdentity)
	return s.Delete(KeySelectedPeer) && ok
}

func marshal(v any) ([]byte, error) {
	if m, ok := v.(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	return msgpack.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	if u, ok := v.(encoding.BinaryUnmarshaler); ok {
		return u.UnmarshalBinary(data)
	}
	return msgpack.Unmarshal(data, v)
}
