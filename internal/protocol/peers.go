package protocol

import (
	"sort"
	"time"
)

// PeerTable keeps one Decoder per peer address.
//
// A PeerTable has a single owner: the goroutine that receives frames. It does
// no locking; sharding by peer is required before feeding it from more than
// one goroutine.
type PeerTable struct {
	limits   Limits
	decoders map[string]*Decoder
	lastSeen map[string]time.Time
}

func NewPeerTable(limits Limits) *PeerTable {
	return &PeerTable{
		limits:   limits,
		decoders: make(map[string]*Decoder),
		lastSeen: make(map[string]time.Time),
	}
}

// Feed routes raw to the decoder for peer, creating it on first contact.
// Decoders left idle after a completed or rejected message are dropped.
func (t *PeerTable) Feed(peer string, raw []byte) Result {
	d, ok := t.decoders[peer]
	if !ok {
		d = NewDecoder(t.limits)
		t.decoders[peer] = d
	}
	res := d.Feed(raw)
	if !d.InProgress() {
		t.Forget(peer)
	} else {
		t.lastSeen[peer] = time.Now()
	}
	return res
}

// InProgress reports whether peer has a partially reassembled message.
func (t *PeerTable) InProgress(peer string) bool {
	d, ok := t.decoders[peer]
	return ok && d.InProgress()
}

// Buffered returns the bytes held for peer's partial message.
func (t *PeerTable) Buffered(peer string) int {
	if d, ok := t.decoders[peer]; ok {
		return d.Buffered()
	}
	return 0
}

// Len returns the number of peers with a message in progress.
func (t *PeerTable) Len() int {
	return len(t.decoders)
}

// Stale returns, sorted, the peers whose partial message last advanced
// before cutoff.
func (t *PeerTable) Stale(cutoff time.Time) []string {
	var out []string
	for peer, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			out = append(out, peer)
		}
	}
	sort.Strings(out)
	return out
}

// Forget drops any partial message from peer.
func (t *PeerTable) Forget(peer string) {
	delete(t.decoders, peer)
	delete(t.lastSeen, peer)
}
