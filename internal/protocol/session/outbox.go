package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingAck tracks one destination awaiting a verify ack.
type PendingAck struct {
	Destination   string
	Command       string
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

// AckOutbox stores pending verified sends by destination.
// Fan-out goroutines update it concurrently.
type AckOutbox struct {
	mu    sync.RWMutex
	items map[string]PendingAck
}

func NewAckOutbox() *AckOutbox {
	return &AckOutbox{
		items: make(map[string]PendingAck),
	}
}

func (o *AckOutbox) Upsert(item PendingAck) {
	key := strings.TrimSpace(item.Destination)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[key] = item
}

func (o *AckOutbox) MarkAttempt(destination string, at time.Time, lastErr string) (PendingAck, bool) {
	key := strings.TrimSpace(destination)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingAck{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

func (o *AckOutbox) Remove(destination string) {
	key := strings.TrimSpace(destination)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *AckOutbox) Get(destination string) (PendingAck, bool) {
	key := strings.TrimSpace(destination)
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

func (o *AckOutbox) List() []PendingAck {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingAck, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Destination < out[j].Destination
	})
	return out
}
