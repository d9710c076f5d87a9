package application

import (
	"context"
	"sync"
	"time"
)

// ChangeKind names the kind of committed write a ChangeEvent reports.
type ChangeKind string

const (
	ChangeCredential        ChangeKind = "credential"
	ChangeCredentialDeleted ChangeKind = "credential_deleted"
	ChangeCollections       ChangeKind = "collections"
	ChangeItems             ChangeKind = "items"
	ChangeWidgets           ChangeKind = "widgets"
)

// ChangeEvent is published after a write has been committed to the
// persistent store. IDs holds the affected record ids for the kind: the
// credential id, collection ids, or for ChangeItems the collection id.
type ChangeEvent struct {
	Kind         ChangeKind
	CredentialID string
	IDs          []string
	At           time.Time
}

// ChangeFeed fans committed-write notifications out to subscribers. Publish
// never blocks: a subscriber whose buffer is full misses the event and is
// expected to resynchronize from the store.
type ChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]chan ChangeEvent
	nextID      int64
	bufferSize  int
}

// NewChangeFeed creates an empty feed.
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		subscribers: make(map[int64]chan ChangeEvent),
		bufferSize:  32,
	}
}

// Subscribe registers a subscriber until ctx is done or the returned cancel
// func is called, at which point the channel is closed.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	stream := make(chan ChangeEvent, f.bufferSize)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subscribers[id] = stream
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, id)
			close(stream)
			f.mu.Unlock()
		})
	}

	stop := context.AfterFunc(ctx, cancel)
	return stream, func() {
		stop()
		cancel()
	}
}

// Publish delivers ev to every current subscriber. A nil feed discards it.
func (f *ChangeFeed) Publish(ev ChangeEvent) {
	if f == nil || ev.Kind == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, stream := range f.subscribers {
		select {
		case stream <- ev:
		default:
		}
	}
}
