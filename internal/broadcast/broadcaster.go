// Package broadcast implements the client registry and fan-out
// (Broadcaster, §4.2): a concurrent-safe set of connected clients that
// every encoded frame, stats update, and cursor change is mirrored to.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Client is anything the Broadcaster can push a message to. Sessions
// implement this with a bounded per-client send queue so one slow peer
// cannot block the others (§4.2, §5).
type Client interface {
	ID() string
	Send(data []byte, isText bool) error
}

// Broadcaster holds the live client set and the last-known cursor/
// resolution state so a newly connected client can be brought up to
// date without waiting for the next natural update (§4.2).
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]Client

	lastCursor     []byte
	lastCursorText bool
	haveCursor     bool

	lastResolutionW, lastResolutionH int
	haveResolution                   bool
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{clients: make(map[string]Client)}
}

// Add registers a client. Idempotent: re-adding the same ID replaces the
// previous registration.
func (b *Broadcaster) Add(c Client) {
	b.mu.Lock()
	b.clients[c.ID()] = c
	cursor, cursorText, haveCursor := b.lastCursor, b.lastCursorText, b.haveCursor
	b.mu.Unlock()

	if haveCursor {
		if err := c.Send(cursor, cursorText); err != nil {
			log.Warn().Str("client", c.ID()).Err(err).Msg("failed to replay cursor on connect")
		}
	}
}

// Remove unregisters a client. Idempotent: removing an unknown ID is a
// no-op.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// Count returns the number of connected clients.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast fans a message out to every connected client. Per-client send
// errors are logged and otherwise ignored — a broken client is cleaned up
// by its own read loop, not by the broadcaster (§4.2).
func (b *Broadcaster) Broadcast(data []byte, isText bool) {
	b.mu.RLock()
	targets := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(data, isText); err != nil {
			log.Warn().Str("client", c.ID()).Err(err).Msg("broadcast send failed")
		}
	}
}

// NoteCursor records the most recent cursor-change payload so it can be
// replayed to clients that connect afterward.
func (b *Broadcaster) NoteCursor(data []byte, isText bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCursor = data
	b.lastCursorText = isText
	b.haveCursor = true
}

// NoteResolution records the current stream resolution for newly joining
// clients.
func (b *Broadcaster) NoteResolution(w, h int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastResolutionW, b.lastResolutionH = w, h
	b.haveResolution = true
}

// Resolution returns the last-known stream resolution, if any.
func (b *Broadcaster) Resolution() (w, h int, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastResolutionW, b.lastResolutionH, b.haveResolution
}
