package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatify/internal/chunk"
	"chatify/internal/content"
	"chatify/internal/dedup"
	"chatify/internal/models"

	"github.com/samber/lo"
)

const (
	DefaultMaxMessageLength = 500
	DefaultMaxImageSize     = 10 << 20
	DefaultTypingTimeout    = time.Second
)

var (
	ErrUnidentified       = errors.New("no identity set")
	ErrAlreadyIdentified  = errors.New("already signed in under another identity")
	ErrNoPeer             = errors.New("no peer selected")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrMessageTooLong     = errors.New("message is too long")
	ErrImageTooLarge      = content.ErrImageTooLarge
	ErrEmptyImage         = errors.New("image has no data")
	ErrSelfConversation   = errors.New("cannot open a conversation with yourself")
	errStaleTypingTimeout = errors.New("stale typing timeout")
)

type State int

const (
	StateUnidentified State = iota
	StateIdle
	StatePeerSelected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePeerSelected:
		return "peer selected"
	}
	return "unidentified"
}

// Transport is the connection the store talks to the relay through.
type Transport interface {
	Connected() bool
	Emit(t models.EventType, payload any) error
}

// Persistence is the best-effort local storage of the session.
type Persistence interface {
	SaveIdentity(identity string) bool
	LoadIdentity() (string, bool)
	SaveSelectedPeer(peer *models.Peer) bool
	LoadSelectedPeer() (*models.Peer, bool)
	SaveConversationLog(identity string, log map[string][]models.Message) bool
	LoadConversationLog(identity string) map[string][]models.Message
	ClearSession() bool
}

type Config struct {
	MaxMessageLength int
	MaxImageSize     int64
	ChunkSize        int
	ChunkThreshold   int
	// ChunkDelay pauses between image slices. Zero sends them back to back.
	ChunkDelay    time.Duration
	TypingTimeout time.Duration
	Chunks        chunk.Config
	DedupCapacity int

	// OnChange is called after every visible state change, outside the store lock.
	OnChange func()
}

func (c *Config) setDefaults() {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.MaxImageSize <= 0 {
		c.MaxImageSize = DefaultMaxImageSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunk.DefaultSize
	}
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = chunk.DefaultThreshold
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
}

// Store is the client side of a chat session: the local identity, who is
// online, the open conversation and the message log of every peer.
type Store struct {
	cfg       Config
	transport Transport
	storage   Persistence
	seen      *dedup.Window
	chunks    *chunk.Reassembler

	mu         sync.Mutex
	identity   string
	online     []models.Peer
	selected   *models.Peer
	typingPeer string
	log        map[string][]models.Message

	// Outgoing typing burst.
	typing      bool
	typingTo    string
	typingGen   int
	typingTimer *time.Timer
}

// New creates a store and restores the persisted session, if any.
// ctx bounds the lifetime of the chunk reassembly cache.
func New(ctx context.Context, transport Transport, storage Persistence, cfg Config) *Store {
	cfg.setDefaults()
	s := &Store{
		cfg:       cfg,
		transport: transport,
		storage:   storage,
		seen:      dedup.New(cfg.DedupCapacity),
		chunks:    chunk.NewReassembler(ctx, cfg.Chunks),
		log:       make(map[string][]models.Message),
	}

	identity, ok := storage.LoadIdentity()
	if !ok {
		return s
	}
	s.identity = identity
	s.log = storage.LoadConversationLog(identity)
	if peer, ok := storage.LoadSelectedPeer(); ok {
		s.selected = peer
	}
	slog.Debug("session restored", "identity", identity, "peers", len(s.log))
	return s
}

// SetIdentity signs the session in. The join is sent now when connected,
// otherwise on the next OnConnected.
func (s *Store) SetIdentity(name string) error {
	identity := content.SanitizeIdentity(name)
	if err := content.ValidateIdentity(identity); err != nil {
		return err
	}

	s.mu.Lock()
	if s.identity != "" && s.identity != identity {
		s.mu.Unlock()
		return ErrAlreadyIdentified
	}
	if s.identity != identity {
		s.identity = identity
		s.log = s.storage.LoadConversationLog(identity)
		s.online = lo.Filter(s.online, func(p models.Peer, _ int) bool { return p.Identity != identity })
	}
	s.storage.SaveIdentity(identity)
	s.mu.Unlock()

	s.changed()
	if !s.transport.Connected() {
		slog.Debug("join deferred until connected", "identity", identity)
		return nil
	}
	return s.emit(models.EventJoin, identity)
}

// OnConnected re-registers the identity with the relay, which keeps no
// presence across its own restarts or our reconnects.
func (s *Store) OnConnected() {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()

	slog.Info("connected", "identity", identity)
	if identity != "" {
		if err := s.emit(models.EventJoin, identity); err != nil {
			slog.Warn("failed to join", "identity", identity, "error", err)
		}
	}
	s.changed()
}

func (s *Store) OnDisconnected() {
	s.mu.Lock()
	s.stopTypingLocked()
	s.typingPeer = ""
	s.mu.Unlock()

	slog.Info("disconnected")
	s.changed()
}

// OnEvent dispatches one event received from the relay.
func (s *Store) OnEvent(ev models.Event) {
	in, err := models.DecodeInbound(ev)
	if err != nil {
		slog.Warn("dropping inbound event", "type", ev.Type, "error", err)
		return
	}

	switch v := in.(type) {
	case models.Message:
		s.OnInboundMessage(v)
	case models.ImageChunk:
		s.onImageChunk(v)
	case models.ImageMetadata:
		slog.Debug("image transfer announced", "from", v.From, "file", v.FileName, "chunks", v.TotalChunks)
	case models.Typing:
		s.OnTyping(v)
	case models.PresenceList:
		s.OnPresenceUpdate(v)
	}
}

func (s *Store) onImageChunk(c models.ImageChunk) {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()
	if c.To != identity {
		slog.Debug("dropping chunk for another identity", "to", c.To)
		return
	}

	msg, done, err := s.chunks.Add(c)
	if err != nil {
		slog.Warn("dropping image chunk", "from", c.From, "file", c.FileName, "index", c.ChunkIndex, "error", err)
		return
	}
	if !done {
		s.changed()
		return
	}
	slog.Debug("image reassembled", "from", msg.From, "file", msg.FileName, "id", msg.ID)
	s.OnInboundMessage(msg)
}

// OnInboundMessage appends a message received from a peer. It reports
// whether the message was new.
func (s *Store) OnInboundMessage(msg models.Message) bool {
	s.mu.Lock()
	switch {
	case msg.To != s.identity:
		s.mu.Unlock()
		slog.Debug("dropping message for another identity", "to", msg.To)
		return false
	case msg.From == s.identity:
		s.mu.Unlock()
		return false
	case s.seen.Seen(msg.ID):
		s.mu.Unlock()
		slog.Debug("dropping duplicate message", "id", msg.ID)
		return false
	}

	s.seen.Mark(msg.ID)
	if lo.ContainsBy(s.log[msg.From], func(m models.Message) bool { return m.ID == msg.ID }) {
		s.mu.Unlock()
		return false
	}

	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	msg.Status = models.MessageStatusDelivered
	if msg.Time == "" && msg.Timestamp > 0 {
		msg.Time = models.ClockTime(time.UnixMilli(msg.Timestamp))
	}
	s.log[msg.From] = append(s.log[msg.From], msg)
	s.persistLogLocked()
	if s.typingPeer == msg.From {
		s.typingPeer = ""
	}
	s.mu.Unlock()

	s.changed()
	return true
}

// OnPresenceUpdate replaces the online view. The selection survives the peer
// going offline; when it is online its handle is refreshed.
func (s *Store) OnPresenceUpdate(list models.PresenceList) {
	s.mu.Lock()
	s.online = lo.Filter(list, func(p models.Peer, _ int) bool { return p.Identity != s.identity })
	if s.selected != nil {
		peer, ok := lo.Find(s.online, func(p models.Peer) bool { return p.Identity == s.selected.Identity })
		if ok && peer.Handle != s.selected.Handle {
			s.selected = &peer
			s.storage.SaveSelectedPeer(s.selected)
		}
	}
	s.mu.Unlock()

	s.changed()
}

// OnTyping shows typing notices from the selected peer only.
func (s *Store) OnTyping(t models.Typing) {
	s.mu.Lock()
	if t.To != "" && t.To != s.identity {
		s.mu.Unlock()
		return
	}
	before := s.typingPeer
	switch {
	case t.Active && s.selected != nil && t.From == s.selected.Identity:
		s.typingPeer = t.From
	case !t.Active && (t.From == "" || t.From == s.typingPeer):
		s.typingPeer = ""
	}
	after := s.typingPeer
	s.mu.Unlock()

	if before != after {
		s.changed()
	}
}

// SetSelectedPeer opens the conversation with peer; nil closes it.
func (s *Store) SetSelectedPeer(peer *models.Peer) error {
	s.mu.Lock()
	if peer != nil && peer.Identity == s.identity {
		s.mu.Unlock()
		return ErrSelfConversation
	}
	stop, to := s.stopTypingLocked()
	if peer != nil {
		p := *peer
		if online, ok := lo.Find(s.online, func(o models.Peer) bool { return o.Identity == p.Identity }); ok {
			p.Handle = online.Handle
		}
		s.selected = &p
	} else {
		s.selected = nil
	}
	s.typingPeer = ""
	s.storage.SaveSelectedPeer(s.selected)
	identity := s.identity
	s.mu.Unlock()

	if stop {
		s.emitTypingStopped(identity, to)
	}
	s.changed()
	return nil
}

// Send echoes a text message into the local log and relays it to the selected peer.
func (s *Store) Send(ctx context.Context, text string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxMessageLength {
		return models.Message{}, fmt.Errorf("%w: %d characters (max %d)", ErrMessageTooLong, n, s.cfg.MaxMessageLength)
	}

	msg, err := s.echo(models.Message{Type: models.MessageTypeText, Content: text})
	if err != nil {
		return models.Message{}, err
	}

	err = s.emit(models.EventPrivateMessage, msg)
	s.emitTypingStopped(msg.From, msg.To)
	return msg, err
}

// SendImage echoes an image into the local log and relays it, in slices when
// the encoded payload is larger than the chunk threshold.
func (s *Store) SendImage(ctx context.Context, img content.Image) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	if img.DataURL == "" {
		return models.Message{}, ErrEmptyImage
	}
	size := max(img.FileSize, content.DecodedSize(img.DataURL))
	if size > s.cfg.MaxImageSize {
		return models.Message{}, fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, size, s.cfg.MaxImageSize)
	}

	msg, err := s.echo(models.Message{
		Type:     models.MessageTypeImage,
		Content:  img.DataURL,
		FileName: img.FileName,
		FileSize: size,
		MimeType: content.DetectMIME(img.DataURL, img.MimeType),
	})
	if err != nil {
		return models.Message{}, err
	}
	defer s.emitTypingStopped(msg.From, msg.To)

	if len(msg.Content) <= s.cfg.ChunkThreshold {
		return msg, s.emit(models.EventPrivateMessage, msg)
	}

	chunks, meta := chunk.Plan(msg, s.cfg.ChunkSize)
	slog.Debug("sending image in chunks", "file", msg.FileName, "chunks", len(chunks))
	for i, c := range chunks {
		if i > 0 {
			if err := sleep(ctx, s.cfg.ChunkDelay); err != nil {
				return msg, fmt.Errorf("image transfer interrupted at chunk %d: %w", i, err)
			}
		}
		if err := s.emit(models.EventImageChunk, c); err != nil {
			return msg, err
		}
	}
	return msg, s.emit(models.EventImageMetadata, meta)
}

// echo stamps msg as sent by us to the selected peer and appends it to the log.
func (s *Store) echo(msg models.Message) (models.Message, error) {
	s.mu.Lock()
	if s.identity == "" {
		s.mu.Unlock()
		return models.Message{}, ErrUnidentified
	}
	if s.selected == nil {
		s.mu.Unlock()
		return models.Message{}, ErrNoPeer
	}
	defer func() {
		s.mu.Unlock()
		s.changed()
	}()

	now := time.Now()
	msg.ID = models.NewMessageID()
	msg.From = s.identity
	msg.To = s.selected.Identity
	msg.Time = models.ClockTime(now)
	msg.Timestamp = now.UnixMilli()
	msg.Status = models.MessageStatusSent

	s.log[msg.To] = append(s.log[msg.To], msg)
	s.persistLogLocked()
	s.seen.Mark(msg.ID)
	s.stopTypingLocked()
	return msg, nil
}

// Keystroke sends typingStarted once per burst and typingStopped after the
// typing timeout passes without another keystroke.
func (s *Store) Keystroke() {
	s.mu.Lock()
	if s.identity == "" || s.selected == nil {
		s.mu.Unlock()
		return
	}
	start := !s.typing
	s.typing = true
	s.typingTo = s.selected.Identity
	s.typingGen++
	gen := s.typingGen
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingTimeout, func() {
		if err := s.typingTimeout(gen); err != nil {
			slog.Debug("typing timeout skipped", "error", err)
		}
	})
	identity, to := s.identity, s.typingTo
	s.mu.Unlock()

	if start {
		if err := s.emit(models.EventTypingStarted, models.Typing{From: identity, To: to}); err != nil {
			slog.Debug("failed to send typing notice", "error", err)
		}
	}
}

func (s *Store) typingTimeout(gen int) error {
	s.mu.Lock()
	if gen != s.typingGen || !s.typing {
		s.mu.Unlock()
		return errStaleTypingTimeout
	}
	_, to := s.stopTypingLocked()
	identity := s.identity
	s.mu.Unlock()

	s.emitTypingStopped(identity, to)
	return nil
}

// stopTypingLocked ends the outgoing burst and reports its recipient.
func (s *Store) stopTypingLocked() (bool, string) {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
	wasTyping, to := s.typing, s.typingTo
	s.typing = false
	s.typingTo = ""
	return wasTyping, to
}

func (s *Store) emitTypingStopped(from, to string) {
	if from == "" || to == "" {
		return
	}
	if err := s.emit(models.EventTypingStopped, models.Typing{From: from, To: to}); err != nil {
		slog.Debug("failed to send typing notice", "error", err)
	}
}

// Logout ends the session. The persisted conversation log is kept so the
// history comes back on the next sign in under the same identity.
func (s *Store) Logout() {
	s.mu.Lock()
	identity := s.identity
	s.stopTypingLocked()
	s.identity = ""
	s.online = nil
	s.selected = nil
	s.typingPeer = ""
	s.log = make(map[string][]models.Message)
	s.storage.ClearSession()
	s.seen.Reset()
	s.chunks.Reset()
	s.mu.Unlock()

	if identity != "" && s.transport.Connected() {
		if err := s.emit(models.EventLogout, identity); err != nil {
			slog.Warn("failed to send logout", "identity", identity, "error", err)
		}
	}
	slog.Info("logged out", "identity", identity)
	s.changed()
}

// ClearConversation forgets the history with peer.
func (s *Store) ClearConversation(peer string) {
	s.mu.Lock()
	delete(s.log, peer)
	s.persistLogLocked()
	s.mu.Unlock()

	s.changed()
}

func (s *Store) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.identity == "":
		return StateUnidentified
	case s.selected == nil:
		return StateIdle
	}
	return StatePeerSelected
}

func (s *Store) Messages(peer string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.log[peer]...)
}

// Peers lists every identity with a conversation in the log, sorted.
func (s *Store) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := lo.Keys(s.log)
	slices.Sort(peers)
	return peers
}

func (s *Store) OnlinePeers() []models.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Peer(nil), s.online...)
}

func (s *Store) SelectedPeer() (models.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return models.Peer{}, false
	}
	return *s.selected, true
}

// TypingPeer returns the identity of the selected peer while they are typing.
func (s *Store) TypingPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingPeer
}

// Progress reports how much of an incoming image from peer has arrived, in percent.
func (s *Store) Progress(peer, fileName string) int {
	return s.chunks.Progress(peer, fileName)
}

func (s *Store) persistLogLocked() {
	if s.identity == "" {
		return
	}
	if !s.storage.SaveConversationLog(s.identity, s.log) {
		slog.Warn("conversation log not persisted", "identity", s.identity)
	}
}

func (s *Store) emit(t models.EventType, payload any) error {
	if err := s.transport.Emit(t, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	return nil
}

func (s *Store) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
