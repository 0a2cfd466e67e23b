package chunk

import (
	"chatify/internal/content"
	"chatify/internal/models"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

const (
	DefaultGrace = 5 * time.Second
	DefaultStale = 2 * time.Minute

	// maxRetired bounds how many superseded message ids a set remembers.
	maxRetired = 8
)

var ErrTotalMismatch = errors.New("chunk total does not match open transfer")

type Config struct {
	// Grace is how long a completed set lingers to swallow late duplicate slices.
	Grace time.Duration
	// Stale is how long an incomplete set survives without receiving a slice.
	Stale time.Duration
}

type chunkSet struct {
	id         string
	from       string
	to         string
	fileName   string
	mimeType   string
	fileSize   int64
	timestamp  int64
	slots      []string
	received   int
	receivedAt time.Time
	done       bool
	// retired holds ids of earlier transfers under the same key whose late
	// slices must be absorbed.
	retired []string
}

func (s *chunkSet) supersedes(id string) bool {
	return id != "" && slices.Contains(s.retired, id)
}

// Reassembler buffers image slices per (sender, file name) and rebuilds the
// image once every index has arrived, in whatever order they came.
type Reassembler struct {
	cfg  Config
	sets geche.Geche[string, *chunkSet]
	now  func() time.Time

	mu sync.Mutex
}

func NewReassembler(ctx context.Context, cfg Config) *Reassembler {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Stale < cfg.Grace {
		cfg.Stale = max(DefaultStale, cfg.Grace)
	}
	return &Reassembler{
		cfg:  cfg,
		sets: geche.NewMapTTLCache[string, *chunkSet](ctx, cfg.Stale, min(cfg.Grace, time.Second)),
		now:  time.Now,
	}
}

func setKey(from, fileName string) string {
	return from + "\x00" + fileName
}

// Add stores one slice. It returns the rebuilt image message exactly once, when
// the slice completes its set. Duplicates and slices for an already rebuilt
// set are absorbed silently. A slice carrying a new message id under the same
// (sender, file name) replaces the open set.
func (r *Reassembler) Add(c models.ImageChunk) (models.Message, bool, error) {
	if err := models.Validate(c); err != nil {
		return models.Message{}, false, fmt.Errorf("invalid chunk: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := setKey(c.From, c.FileName)
	set, err := r.sets.Get(key)
	switch {
	case err != nil:
		set = r.newSet(c)
	case set.supersedes(c.ID):
		return models.Message{}, false, nil
	case c.ID != "" && set.id != "" && c.ID != set.id:
		old := set
		set = r.newSet(c)
		set.retired = append(slices.Clone(old.retired), old.id)
		if len(set.retired) > maxRetired {
			set.retired = set.retired[len(set.retired)-maxRetired:]
		}
	}

	if set.done {
		return models.Message{}, false, nil
	}
	if c.TotalChunks != len(set.slots) {
		return models.Message{}, false, fmt.Errorf("%w: got %d, want %d", ErrTotalMismatch, c.TotalChunks, len(set.slots))
	}

	if set.slots[c.ChunkIndex] == "" {
		set.received++
	}
	set.slots[c.ChunkIndex] = c.Chunk
	if set.id == "" {
		set.id = c.ID
	}
	if set.mimeType == "" {
		set.mimeType = c.MimeType
	}
	r.sets.Set(key, set)

	if set.received < len(set.slots) {
		return models.Message{}, false, nil
	}

	set.done = true
	time.AfterFunc(r.cfg.Grace, func() { r.evict(key, set) })
	return r.rebuild(set), true, nil
}

func (r *Reassembler) newSet(c models.ImageChunk) *chunkSet {
	return &chunkSet{
		id:         c.ID,
		from:       c.From,
		to:         c.To,
		fileName:   c.FileName,
		mimeType:   c.MimeType,
		fileSize:   c.FileSize,
		timestamp:  c.Timestamp,
		slots:      make([]string, c.TotalChunks),
		receivedAt: r.now(),
	}
}

func (r *Reassembler) rebuild(set *chunkSet) models.Message {
	var sb strings.Builder
	size := 0
	for _, s := range set.slots {
		size += len(s)
	}
	sb.Grow(size)
	for _, s := range set.slots {
		sb.WriteString(s)
	}
	data := sb.String()
	mimeType := content.DetectMIME(data, set.mimeType)

	timestamp := set.timestamp
	if timestamp == 0 {
		timestamp = set.receivedAt.UnixMilli()
	}

	id := set.id
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", set.from, set.fileName, timestamp)
	}

	// Release the slices; a done set only needs to exist to absorb duplicates.
	set.slots = make([]string, len(set.slots))

	return models.Message{
		ID:        id,
		From:      set.from,
		To:        set.to,
		Type:      models.MessageTypeImage,
		Content:   content.DataURL(mimeType, data),
		FileName:  set.fileName,
		FileSize:  set.fileSize,
		MimeType:  mimeType,
		Time:      models.ClockTime(time.UnixMilli(timestamp)),
		Timestamp: timestamp,
		Status:    models.MessageStatusDelivered,
	}
}

func (r *Reassembler) evict(key string, set *chunkSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, err := r.sets.Get(key); err == nil && current == set {
		_ = r.sets.Del(key)
	}
}

// Progress reports how much of a transfer has arrived, in percent.
func (r *Reassembler) Progress(from, fileName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.sets.Get(setKey(from, fileName))
	if err != nil {
		return 0
	}
	if set.done {
		return 100
	}
	return set.received * 100 / len(set.slots)
}

// Pending returns the number of sets currently buffered, complete or not.
func (r *Reassembler) Pending() int {
	return r.sets.Len()
}

// Reset drops every buffered set.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.sets.Snapshot() {
		_ = r.sets.Del(key)
	}
}
