package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatify/internal/content"
	"chatify/internal/models"
	"chatify/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("offline")

type sentEvent struct {
	Type    models.EventType
	Payload json.RawMessage
}

// fakeTransport records every emitted event, JSON encoded the way the
// websocket client would send it. When peer is set, directed events are
// delivered to it the way the relay would.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []sentEvent
	peer      *Store
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Emit(t models.EventType, payload any) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return errOffline
	}
	ev, err := models.NewEvent(t, payload)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, sentEvent{Type: ev.Type, Payload: ev.Payload})
	peer := f.peer
	f.mu.Unlock()

	if peer != nil && t.Directed() {
		if ev.Type == models.EventPrivateMessage {
			ev.Type = models.EventPrivateMessageReceived
		}
		peer.OnEvent(ev)
	}
	return nil
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) events(t models.EventType) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, ev := range f.sent {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memStorage struct {
	mu       sync.Mutex
	identity string
	selected *models.Peer
	logs     map[string]map[string][]models.Message
}

func newMemStorage() *memStorage {
	return &memStorage{logs: make(map[string]map[string][]models.Message)}
}

func (m *memStorage) SaveIdentity(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identity
	return true
}

func (m *memStorage) LoadIdentity() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity, m.identity != ""
}

func (m *memStorage) SaveSelectedPeer(peer *models.Peer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if peer == nil {
		m.selected = nil
		return true
	}
	p := *peer
	m.selected = &p
	return true
}

func (m *memStorage) LoadSelectedPeer() (*models.Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == nil {
		return nil, false
	}
	p := *m.selected
	return &p, true
}

func (m *memStorage) SaveConversationLog(identity string, log map[string][]models.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string][]models.Message, len(log))
	for peer, msgs := range log {
		cp[peer] = append([]models.Message(nil), msgs...)
	}
	m.logs[identity] = cp
	return true
}

func (m *memStorage) LoadConversationLog(identity string) map[string][]models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string][]models.Message)
	for peer, msgs := range m.logs[identity] {
		cp[peer] = append([]models.Message(nil), msgs...)
	}
	return cp
}

func (m *memStorage) ClearSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = ""
	m.selected = nil
	return true
}

func newStore(t *testing.T, cfg Config) (*Store, *fakeTransport, *memStorage) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr := &fakeTransport{connected: true}
	st := newMemStorage()
	return New(ctx, tr, st, cfg), tr, st
}

func signIn(t *testing.T, s *Store, identity, peer string) {
	t.Helper()
	require.NoError(t, s.SetIdentity(identity))
	if peer != "" {
		require.NoError(t, s.SetSelectedPeer(&models.Peer{Identity: peer}))
	}
}

func received(id, from, to, text string) models.Event {
	ev, _ := models.NewEvent(models.EventPrivateMessageReceived, models.Message{
		ID: id, From: from, To: to, Content: text, Timestamp: time.Now().UnixMilli(),
	})
	return ev
}

func TestStore_States(t *testing.T) {
	s, tr, st := newStore(t, Config{})
	assert.Equal(t, StateUnidentified, s.State())

	require.NoError(t, s.SetIdentity("  alice "))
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "alice", s.Identity())
	assert.Equal(t, "alice", st.identity)
	require.Len(t, tr.events(models.EventJoin), 1)

	require.NoError(t, s.SetSelectedPeer(&models.Peer{Identity: "bob"}))
	assert.Equal(t, StatePeerSelected, s.State())
	require.NotNil(t, st.selected)
	assert.Equal(t, "bob", st.selected.Identity)

	require.NoError(t, s.SetSelectedPeer(nil))
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, st.selected)

	assert.ErrorIs(t, s.SetSelectedPeer(&models.Peer{Identity: "alice"}), ErrSelfConversation)
	assert.ErrorIs(t, s.SetIdentity("carol"), ErrAlreadyIdentified)
	assert.ErrorIs(t, s.SetIdentity("   "), content.ErrEmptyIdentity)
}

func TestStore_JoinDeferredUntilConnected(t *testing.T) {
	s, tr, _ := newStore(t, Config{})
	tr.setConnected(false)

	require.NoError(t, s.SetIdentity("alice"))
	assert.Empty(t, tr.events(models.EventJoin))

	tr.setConnected(true)
	s.OnConnected()
	joins := tr.events(models.EventJoin)
	require.Len(t, joins, 1)
	assert.JSONEq(t, `"alice"`, string(joins[0].Payload))

	// Every reconnect joins again.
	s.OnDisconnected()
	s.OnConnected()
	assert.Len(t, tr.events(models.EventJoin), 2)
}

func TestStore_SendText(t *testing.T) {
	s, tr, st := newStore(t, Config{})

	_, err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnidentified)

	signIn(t, s, "alice", "")
	_, err = s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoPeer)

	require.NoError(t, s.SetSelectedPeer(&models.Peer{Identity: "bob"}))
	_, err = s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = s.Send(context.Background(), strings.Repeat("x", 501))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	msg, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "bob", msg.To)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.NotEmpty(t, msg.ID)

	log := s.Messages("bob")
	require.Len(t, log, 1)
	assert.Equal(t, msg, log[0])
	assert.Len(t, st.logs["alice"]["bob"], 1)

	sent := tr.events(models.EventPrivateMessage)
	require.Len(t, sent, 1)
	var wire models.Message
	require.NoError(t, json.Unmarshal(sent[0].Payload, &wire))
	assert.Equal(t, "hi", wire.Content)
	assert.Len(t, tr.events(models.EventTypingStopped), 1)
}

func TestStore_SendWhileOfflineKeepsEcho(t *testing.T) {
	s, tr, _ := newStore(t, Config{})
	signIn(t, s, "alice", "bob")
	tr.setConnected(false)

	_, err := s.Send(context.Background(), "are you there?")
	assert.ErrorIs(t, err, errOffline)
	assert.Len(t, s.Messages("bob"), 1)
}

func TestStore_InboundMessage(t *testing.T) {
	s, _, st := newStore(t, Config{})
	signIn(t, s, "bob", "")

	s.OnEvent(received("m1", "alice", "bob", "hi"))
	s.OnEvent(received("m1", "alice", "bob", "hi"))

	log := s.Messages("alice")
	require.Len(t, log, 1)
	assert.Equal(t, "hi", log[0].Content)
	assert.Equal(t, models.MessageStatusDelivered, log[0].Status)
	assert.Equal(t, models.MessageTypeText, log[0].Type)
	assert.Len(t, st.logs["bob"]["alice"], 1)

	tests := []struct {
		name string
		msg  models.Message
	}{
		{"addressed to someone else", models.Message{ID: "m2", From: "alice", To: "carol"}},
		{"own echo", models.Message{ID: "m3", From: "bob", To: "bob"}},
		{"already seen", models.Message{ID: "m1", From: "alice", To: "bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, s.OnInboundMessage(tt.msg))
		})
	}
	assert.Len(t, s.Messages("alice"), 1)
}

func TestStore_InboundMessageAlreadyInRestoredLog(t *testing.T) {
	st := newMemStorage()
	st.identity = "bob"
	st.logs["bob"] = map[string][]models.Message{
		"alice": {{ID: "m1", From: "alice", To: "bob", Content: "hi"}},
	}

	s := New(context.Background(), &fakeTransport{connected: true}, st, Config{})
	assert.Equal(t, "bob", s.Identity())

	// The dedup window starts empty after a restart; the log itself still rejects the id.
	assert.False(t, s.OnInboundMessage(models.Message{ID: "m1", From: "alice", To: "bob", Content: "hi"}))
	assert.Len(t, s.Messages("alice"), 1)
}

func TestStore_PresenceUpdate(t *testing.T) {
	s, _, st := newStore(t, Config{})
	signIn(t, s, "alice", "bob")

	s.OnPresenceUpdate(models.PresenceList{
		{Identity: "alice", Handle: "h1"},
		{Identity: "bob", Handle: "h2"},
		{Identity: "carol", Handle: "h3"},
	})
	assert.Equal(t, []models.Peer{{Identity: "bob", Handle: "h2"}, {Identity: "carol", Handle: "h3"}}, s.OnlinePeers())
	peer, ok := s.SelectedPeer()
	require.True(t, ok)
	assert.Equal(t, "h2", peer.Handle)
	assert.Equal(t, "h2", st.selected.Handle)

	// bob reconnects under a new handle
	s.OnPresenceUpdate(models.PresenceList{{Identity: "bob", Handle: "h9"}})
	peer, _ = s.SelectedPeer()
	assert.Equal(t, "h9", peer.Handle)

	// bob goes offline; the conversation stays open
	s.OnPresenceUpdate(models.PresenceList{{Identity: "alice", Handle: "h1"}})
	assert.Empty(t, s.OnlinePeers())
	peer, ok = s.SelectedPeer()
	require.True(t, ok)
	assert.Equal(t, "bob", peer.Identity)
	assert.Equal(t, StatePeerSelected, s.State())
}

func TestStore_TypingDebounce(t *testing.T) {
	s, tr, _ := newStore(t, Config{TypingTimeout: 30 * time.Millisecond})
	signIn(t, s, "alice", "bob")

	s.Keystroke()
	s.Keystroke()
	s.Keystroke()
	require.Len(t, tr.events(models.EventTypingStarted), 1)

	assert.Eventually(t, func() bool {
		return len(tr.events(models.EventTypingStopped)) == 1
	}, time.Second, 5*time.Millisecond)

	var typing models.Typing
	require.NoError(t, json.Unmarshal(tr.events(models.EventTypingStopped)[0].Payload, &typing))
	assert.Equal(t, "bob", typing.To)

	// A new burst starts a new notice.
	s.Keystroke()
	assert.Len(t, tr.events(models.EventTypingStarted), 2)

	_, err := s.Send(context.Background(), "done")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, tr.events(models.EventTypingStopped), 2, "send stops typing and cancels the timeout")
}

func TestStore_TypingFromSelectedPeerOnly(t *testing.T) {
	s, _, _ := newStore(t, Config{})
	signIn(t, s, "bob", "alice")

	start := func(from string) models.Event {
		ev, _ := models.NewEvent(models.EventTypingStarted, models.Typing{From: from, To: "bob"})
		return ev
	}
	stop, _ := models.NewEvent(models.EventTypingStopped, models.Typing{To: "bob"})

	s.OnEvent(start("carol"))
	assert.Empty(t, s.TypingPeer())

	s.OnEvent(start("alice"))
	assert.Equal(t, "alice", s.TypingPeer())

	s.OnEvent(stop)
	assert.Empty(t, s.TypingPeer())
}

func TestStore_Logout(t *testing.T) {
	s, tr, st := newStore(t, Config{})
	signIn(t, s, "alice", "bob")
	_, err := s.Send(context.Background(), "bye")
	require.NoError(t, err)

	s.Logout()
	assert.Equal(t, StateUnidentified, s.State())
	assert.Empty(t, s.Messages("bob"))
	assert.Empty(t, st.identity)
	assert.Nil(t, st.selected)
	require.Len(t, tr.events(models.EventLogout), 1)

	// History comes back with the identity.
	require.NoError(t, s.SetIdentity("alice"))
	assert.Len(t, s.Messages("bob"), 1)
}

func TestStore_ClearConversation(t *testing.T) {
	s, _, st := newStore(t, Config{})
	signIn(t, s, "bob", "")
	s.OnEvent(received("m1", "alice", "bob", "hi"))
	s.OnEvent(received("m2", "carol", "bob", "yo"))

	s.ClearConversation("alice")
	assert.Empty(t, s.Messages("alice"))
	assert.Len(t, s.Messages("carol"), 1)
	assert.NotContains(t, st.logs["bob"], "alice")
}

func TestStore_OnChange(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s, _, _ := newStore(t, Config{OnChange: func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}})

	signIn(t, s, "bob", "")
	s.OnEvent(received("m1", "alice", "bob", "hi"))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}

func TestStore_OnChangeOnlyOnAppend(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	s, _, _ := newStore(t, Config{OnChange: func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}})

	before := count()
	_, err := s.Send(context.Background(), "hello?")
	require.ErrorIs(t, err, ErrUnidentified)
	_, err = s.SendImage(context.Background(), content.Image{FileName: "a.png", DataURL: "data:image/png;base64,AAAA"})
	require.ErrorIs(t, err, ErrUnidentified)
	assert.Equal(t, before, count())

	signIn(t, s, "alice", "")
	before = count()
	_, err = s.Send(context.Background(), "anyone?")
	require.ErrorIs(t, err, ErrNoPeer)
	assert.Equal(t, before, count())

	require.NoError(t, s.SetSelectedPeer(&models.Peer{Identity: "bob"}))
	before = count()
	_, err = s.Send(context.Background(), "hi bob")
	require.NoError(t, err)
	assert.Greater(t, count(), before)
}

func TestStore_SendImageTooLarge(t *testing.T) {
	s, tr, _ := newStore(t, Config{MaxImageSize: 100})
	signIn(t, s, "alice", "bob")

	_, err := s.SendImage(context.Background(), content.Image{FileName: "big.png", FileSize: 101, DataURL: "data:image/png;base64,AAAA"})
	assert.ErrorIs(t, err, ErrImageTooLarge)
	_, err = s.SendImage(context.Background(), content.Image{FileName: "empty.png"})
	assert.ErrorIs(t, err, ErrEmptyImage)

	// The payload itself is measured when the declared size is missing or understated.
	for _, declared := range []int64{0, 4} {
		_, err = s.SendImage(context.Background(), content.Image{
			FileName: "big.png", FileSize: declared, DataURL: "data:image/png;base64," + strings.Repeat("A", 136),
		})
		assert.ErrorIs(t, err, ErrImageTooLarge, "declared %d", declared)
	}
	assert.Empty(t, s.Messages("bob"))
	assert.Empty(t, tr.sent[1:], "only the join was sent")
}

func TestStore_SendSmallImage(t *testing.T) {
	s, tr, _ := newStore(t, Config{})
	signIn(t, s, "alice", "bob")

	img := content.Image{FileName: "dot.png", FileSize: 4, MimeType: "image/png", DataURL: "data:image/png;base64,AAAA"}
	msg, err := s.SendImage(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, msg.Type)
	assert.Equal(t, img.DataURL, msg.Content)
	assert.Len(t, tr.events(models.EventPrivateMessage), 1)
	assert.Empty(t, tr.events(models.EventImageChunk))
}

func TestStore_SendImageCancelled(t *testing.T) {
	s, tr, _ := newStore(t, Config{ChunkSize: 10, ChunkThreshold: 10, ChunkDelay: time.Hour})
	signIn(t, s, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	img := content.Image{FileName: "a.png", FileSize: 30, DataURL: "data:image/png;base64," + strings.Repeat("A", 40)}
	_, err := s.SendImage(ctx, img)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, tr.events(models.EventImageChunk), 1)
	assert.Empty(t, tr.events(models.EventImageMetadata))
	assert.Len(t, s.Messages("bob"), 1, "the local echo stays")
}

// pair wires two stores together through fake transports that deliver
// directed events to each other, the way the relay does.
func pair(t *testing.T, cfg Config) (alice, bob *Store, aliceTr, bobTr *fakeTransport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	aliceTr = &fakeTransport{connected: true}
	bobTr = &fakeTransport{connected: true}
	alice = New(ctx, aliceTr, newMemStorage(), cfg)
	bob = New(ctx, bobTr, newMemStorage(), cfg)
	aliceTr.peer = bob
	bobTr.peer = alice

	signIn(t, alice, "alice", "bob")
	signIn(t, bob, "bob", "alice")
	return alice, bob, aliceTr, bobTr
}

func TestStore_TextBetweenPeers(t *testing.T) {
	alice, bob, _, _ := pair(t, Config{})

	_, err := alice.Send(context.Background(), "hi")
	require.NoError(t, err)

	bobLog := bob.Messages("alice")
	require.Len(t, bobLog, 1)
	assert.Equal(t, "alice", bobLog[0].From)
	assert.Equal(t, "hi", bobLog[0].Content)
	assert.Equal(t, models.MessageStatusDelivered, bobLog[0].Status)

	aliceLog := alice.Messages("bob")
	require.Len(t, aliceLog, 1)
	assert.Equal(t, bobLog[0].ID, aliceLog[0].ID)
}

func TestStore_ChunkedImageBetweenPeers(t *testing.T) {
	alice, bob, aliceTr, _ := pair(t, Config{})

	raw := make([]byte, 2_400_000)
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	img := content.Image{
		FileName: "photo.jpg",
		FileSize: int64(len(raw)),
		MimeType: "image/jpeg",
		DataURL:  content.DataURL("image/jpeg", base64.StdEncoding.EncodeToString(raw)),
	}

	msg, err := alice.SendImage(context.Background(), img)
	require.NoError(t, err)
	assert.Len(t, aliceTr.events(models.EventImageChunk), 7)
	assert.Len(t, aliceTr.events(models.EventImageMetadata), 1)
	assert.Empty(t, aliceTr.events(models.EventPrivateMessage))

	bobLog := bob.Messages("alice")
	require.Len(t, bobLog, 1)
	got := bobLog[0]
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, models.MessageTypeImage, got.Type)
	assert.Equal(t, "photo.jpg", got.FileName)
	assert.Equal(t, "image/jpeg", got.MimeType)
	assert.True(t, got.Content == img.DataURL, "reassembled image differs from the original")
	assert.Equal(t, 100, bob.Progress("alice", "photo.jpg"))

	// Replaying every slice does not add a second image.
	for _, ev := range aliceTr.events(models.EventImageChunk) {
		bob.OnEvent(models.Event{Type: ev.Type, Payload: ev.Payload})
	}
	assert.Len(t, bob.Messages("alice"), 1)
}

func TestStore_RestoresFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.NewBboltStorage(path)
	require.NoError(t, err)

	tr := &fakeTransport{connected: true}
	s := New(context.Background(), tr, db, Config{})
	signIn(t, s, "alice", "bob")
	_, err = s.Send(context.Background(), "persist me")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = storage.NewBboltStorage(path)
	require.NoError(t, err)
	defer db.Close()

	restored := New(context.Background(), tr, db, Config{})
	assert.Equal(t, "alice", restored.Identity())
	assert.Equal(t, StatePeerSelected, restored.State())
	log := restored.Messages("bob")
	require.Len(t, log, 1)
	assert.Equal(t, "persist me", log[0].Content)
}

func TestStore_Peers(t *testing.T) {
	s, _, _ := newStore(t, Config{})
	signIn(t, s, "bob", "")
	s.OnEvent(received("m1", "carol", "bob", "hi"))
	s.OnEvent(received("m2", "alice", "bob", "hi"))

	assert.Equal(t, []string{"alice", "carol"}, s.Peers())
}
