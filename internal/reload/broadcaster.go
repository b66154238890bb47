// Package reload fans live-reload notifications out to connected clients.
//
// Exactly two payloads ever cross a channel: FullReload and StyleUpdate. The
// open-channel set is a single owned resource behind a guarded interface, not
// ambient global state; delivery to each channel is independent and bounded
// by a timeout so one slow client never delays the rest.
package reload

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tagon-dev/tagon/internal/config"
)

// Notification payloads understood by the client runtime.
const (
	// FullReload tells clients to reload the page.
	FullReload = "reload"
	// StyleUpdate tells clients to refresh styles in place.
	StyleUpdate = "css-updated"
)

// Channel is one connected client's live-reload link. Send must deliver the
// payload within the given bound or return an error.
type Channel interface {
	Send(payload string, timeout time.Duration) error
	Close() error
}

// Broadcaster owns the set of open reload channels.
type Broadcaster struct {
	config      *config.Config
	sendTimeout time.Duration
	mu          sync.Mutex
	channels    map[string]Channel
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(cfg *config.Config) *Broadcaster {
	return &Broadcaster{
		config:      cfg,
		sendTimeout: cfg.Reload.SendTimeout.Duration(),
		channels:    make(map[string]Channel),
	}
}

// Log logs a message via the config.
func (b *Broadcaster) Log(level int, format string, args ...interface{}) {
	b.config.Log(level, format, args...)
}

// Add registers a channel and returns its handle ID.
func (b *Broadcaster) Add(ch Channel) string {
	id := generateChannelID()
	b.mu.Lock()
	b.channels[id] = ch
	count := len(b.channels)
	b.mu.Unlock()
	b.Log(1, "reload: client connected: %s (total: %d)", id, count)
	return id
}

// Remove closes and drops a channel. Removing an unknown ID is a no-op, so a
// client may disconnect at any time, including mid-broadcast.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	ch, ok := b.channels[id]
	if ok {
		delete(b.channels, id)
	}
	count := len(b.channels)
	b.mu.Unlock()
	if !ok {
		return
	}
	ch.Close()
	b.Log(1, "reload: client disconnected: %s (total: %d)", id, count)
}

// Count returns the number of open channels.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// Broadcast attempts delivery of payload to every open channel, each bounded
// by the send timeout. A channel that fails or times out is closed and
// removed rather than blocking delivery to the rest.
func (b *Broadcaster) Broadcast(payload string) {
	b.mu.Lock()
	snapshot := make(map[string]Channel, len(b.channels))
	for id, ch := range b.channels {
		snapshot[id] = ch
	}
	b.mu.Unlock()

	if len(snapshot) == 0 {
		b.Log(2, "reload: no clients connected for %q", payload)
		return
	}

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []string

	for id, ch := range snapshot {
		wg.Add(1)
		go func(id string, ch Channel) {
			defer wg.Done()
			if err := ch.Send(payload, b.sendTimeout); err != nil {
				b.Log(1, "reload: send to %s failed: %v", id, err)
				failedMu.Lock()
				failed = append(failed, id)
				failedMu.Unlock()
			}
		}(id, ch)
	}
	wg.Wait()

	for _, id := range failed {
		b.Remove(id)
	}
	b.Log(2, "reload: %q sent to %d client(s), %d dropped", payload, len(snapshot)-len(failed), len(failed))
}

// CloseAll closes every channel, for shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[string]Channel)
	b.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

// generateChannelID returns a random handle for one client channel.
func generateChannelID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
