package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/perfctl/internal/observability"
	"github.com/danmuck/perfctl/internal/protocol"
	"github.com/rs/zerolog"
)

var ErrReceiverStopped = errors.New("transport: receiver stopped")

// Message is one reassembled, checksum-verified message.
type Message struct {
	// Peer is the source ip:port the frames arrived from.
	Peer string
	// Host is the source ip.
	Host       string
	Addr       *net.UDPAddr
	Data       []byte
	ReceivedAt time.Time
}

// Receiver runs the receive loop for one Transport and queues completed messages.
type Receiver struct {
	tr   *Transport
	log  zerolog.Logger
	recv func(time.Duration) (Datagram, error)

	results chan Message
	done    chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

func NewReceiver(tr *Transport, log zerolog.Logger) *Receiver {
	return &Receiver{
		tr:      tr,
		log:     log.With().Str("component", "receiver").Logger(),
		recv:    tr.Recv,
		results: make(chan Message, tr.Session().QueueSize),
		done:    make(chan struct{}),
	}
}

// Start binds the transport and launches the loop. The loop exits when ctx
// ends, Stop is called, or the transport is closed. Start is idempotent.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.tr.Bind(); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true
	go r.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for it to exit. The loop notices within
// one RecvTimeout. Messages already queued stay readable.
func (r *Receiver) Stop() {
	r.mu.Lock()
	cancel, started := r.cancel, r.started
	r.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-r.done
}

// Done is closed once the loop has exited.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Next returns the next completed message, waiting up to timeout.
// A non-positive timeout waits until a message arrives or the loop exits.
func (r *Receiver) Next(timeout time.Duration) (Message, bool) {
	if timeout <= 0 {
		msg, ok := <-r.results
		return msg, ok
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-r.results:
		return msg, ok
	case <-timer.C:
		return Message{}, false
	}
}

// NextContext returns the next completed message or ctx's error.
// It returns ErrReceiverStopped once the loop has exited and the queue is drained.
func (r *Receiver) NextContext(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-r.results:
		if !ok {
			return Message{}, ErrReceiverStopped
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (r *Receiver) loop(ctx context.Context) {
	defer close(r.done)
	defer close(r.results)

	node := r.tr.Node()
	table := protocol.NewPeerTable(r.tr.Session().Limits)
	r.log.Info().Msg("receive loop started")
	defer r.log.Info().Msg("receive loop stopped")

	tick := r.tr.Session().RecvTimeout
	idle := r.tr.Session().PeerIdleTimeout
	lastSweep := time.Now()
	for ctx.Err() == nil {
		if now := time.Now(); now.Sub(lastSweep) >= tick {
			r.expire(table, now.Add(-idle))
			lastSweep = now
		}
		dg, err := r.recv(tick)
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrClosed):
			return
		case err != nil:
			// Persistent socket errors would otherwise spin; pause one tick.
			r.log.Warn().Err(err).Msg("receive failed")
			timer := time.NewTimer(tick)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		observability.RecordFrameReceived(node)

		peer := dg.Addr.String()
		res := table.Feed(peer, dg.Data)
		switch res.Status {
		case protocol.StatusRejected:
			reason := protocol.Reason(res.Err)
			observability.RecordMessageRejected(node, reason)
			r.log.Warn().Err(res.Err).Str("peer", peer).Str("reason", reason).Msg("message dropped")
		case protocol.StatusReady:
			observability.RecordMessageCompleted(node)
			msg := Message{
				Peer:       peer,
				Host:       dg.Addr.IP.String(),
				Addr:       dg.Addr,
				Data:       res.Message,
				ReceivedAt: time.Now(),
			}
			select {
			case r.results <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// expire drops partial messages whose peers went quiet before cutoff.
func (r *Receiver) expire(table *protocol.PeerTable, cutoff time.Time) {
	for _, peer := range table.Stale(cutoff) {
		r.log.Warn().Str("peer", peer).Int("buffered", table.Buffered(peer)).Msg("partial message expired")
		observability.RecordMessageRejected(r.tr.Node(), "expired")
		table.Forget(peer)
	}
}
