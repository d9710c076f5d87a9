package sharedfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReloadNotifier = (*Notifier)(nil)

// ReloadMarker is the file rewritten on every reload signal. Hosts watch the
// shared directory for it instead of polling every key.
const ReloadMarker = ".reload"

// ReloadEvent is the content of the reload marker.
type ReloadEvent struct {
	Seq    uint64    `json:"seq"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Notifier signals reloads by rewriting the marker file in the shared directory.
type Notifier struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewNotifier creates a Notifier writing into dir.
func NewNotifier(dir string) *Notifier {
	return &Notifier{dir: dir, now: time.Now}
}

// NotifyReload rewrites the marker with a new sequence number.
func (n *Notifier) NotifyReload(_ context.Context, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	data, err := json.Marshal(ReloadEvent{Seq: n.seq, Reason: reason, At: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal reload marker: %w", err)
	}

	if err := atomic.WriteFile(filepath.Join(n.dir, ReloadMarker), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write reload marker: %w", err)
	}
	return nil
}

// ReadMarker returns the last reload event written to dir, or false if none.
func ReadMarker(dir string) (ReloadEvent, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReloadMarker))
	if os.IsNotExist(err) {
		return ReloadEvent{}, false, nil
	}
	if err != nil {
		return ReloadEvent{}, false, fmt.Errorf("read reload marker: %w", err)
	}

	var ev ReloadEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ReloadEvent{}, false, fmt.Errorf("decode reload marker: %w", err)
	}
	return ev, true, nil
}
