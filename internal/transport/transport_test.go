package transport

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/perfctl/internal/protocol"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/danmuck/perfctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.FrameSize = 512
	cfg.RecvTimeout = 25 * time.Millisecond
	cfg.AckTimeout = 500 * time.Millisecond
	return cfg
}

func newListener(t *testing.T, log zerolog.Logger, cfg session.Config) *Transport {
	t.Helper()
	tr, err := New(Config{Node: "rx", Bind: "127.0.0.1:0", Session: cfg}, log)
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	if err := tr.Bind(); err != nil {
		t.Fatalf("bind listener: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func newSender(t *testing.T, log zerolog.Logger, cfg session.Config, dest string) *Transport {
	t.Helper()
	tr, err := New(Config{Node: "tx", Destination: dest, Session: cfg}, log)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func startReceiver(t *testing.T, log zerolog.Logger, tr *Transport) *Receiver {
	t.Helper()
	rx := NewReceiver(tr, log)
	if err := rx.Start(context.Background()); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	t.Cleanup(rx.Stop)
	return rx
}

func payload(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestParseURL(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw  string
		want Endpoint
		ok   bool
	}{
		{raw: "udp://10.0.0.5:9090/1024", want: Endpoint{Host: "10.0.0.5", Port: 9090, FrameSize: 1024}, ok: true},
		{raw: "UDP://collector:7000", want: Endpoint{Host: "collector", Port: 7000}, ok: true},
		{raw: "udp://[::1]:7000/256", want: Endpoint{Host: "::1", Port: 7000, FrameSize: 256}, ok: true},
		{raw: "tcp://10.0.0.5:9090/1024"},
		{raw: "udp://10.0.0.5/1024"},
		{raw: "udp://10.0.0.5:0"},
		{raw: "udp://10.0.0.5:9090/abc"},
		{raw: "udp://:9090"},
	}
	for _, tc := range cases {
		got, err := ParseURL(tc.raw)
		if !tc.ok {
			if !errors.Is(err, ErrInvalidURL) {
				t.Fatalf("%s: expected ErrInvalidURL, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got=%+v want=%+v", tc.raw, got, tc.want)
		}
	}

	ep := Endpoint{Host: "10.0.0.5", Port: 9090, FrameSize: 1024}
	if ep.String() != "udp://10.0.0.5:9090/1024" {
		t.Fatalf("unexpected endpoint string: %s", ep.String())
	}
}

func TestNewEndpointFromParts(t *testing.T) {
	testlog.Start(t)
	ep, err := NewEndpoint("10.0.0.1", "9090", "256")
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}
	if ep != (Endpoint{Host: "10.0.0.1", Port: 9090, FrameSize: 256}) {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
	if ep.String() != "udp://10.0.0.1:9090/256" {
		t.Fatalf("unexpected string: %s", ep.String())
	}
	if back, err := ParseURL(ep.String()); err != nil || back != ep {
		t.Fatalf("endpoint string does not parse back: %+v %v", back, err)
	}
	if ep, err := NewEndpoint("collector", "7000", ""); err != nil || ep.FrameSize != 0 {
		t.Fatalf("empty size: %+v %v", ep, err)
	}
	for _, parts := range [][3]string{{"", "9090", "256"}, {"h", "x", "256"}, {"h", "70000", "256"}, {"h", "9090", "-1"}} {
		if _, err := NewEndpoint(parts[0], parts[1], parts[2]); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("%v: expected ErrInvalidURL, got %v", parts, err)
		}
	}
}

func TestRecvTimesOutWithoutTraffic(t *testing.T) {
	log := testlog.Start(t)
	tr := newListener(t, log, testSession())

	start := time.Now()
	_, err := tr.Recv(30 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("recv blocked too long: %v", time.Since(start))
	}
}

func TestRecvBindsLazily(t *testing.T) {
	log := testlog.Start(t)
	tr, err := New(Config{Bind: "127.0.0.1:0", Session: testSession()}, log)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tr.Close()
	if tr.LocalAddr() != nil {
		t.Fatalf("expected no local addr before first recv")
	}
	if _, err := tr.Recv(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if tr.LocalAddr() == nil {
		t.Fatalf("expected recv to bind the socket")
	}
}

func TestSendRequiresDestination(t *testing.T) {
	log := testlog.Start(t)
	tr, err := New(Config{Session: testSession()}, log)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tr.Close()
	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
	if err := tr.SendMessage([]byte("x")); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
}

func TestNewRejectsInvalidSession(t *testing.T) {
	log := testlog.Start(t)
	cfg := testSession()
	cfg.FrameSize = 8
	if _, err := New(Config{Session: cfg}, log); !errors.Is(err, session.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestClosedTransportReturnsErrClosed(t *testing.T) {
	log := testlog.Start(t)
	tr := newListener(t, log, testSession())
	addr := tr.LocalAddr()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := tr.Recv(10 * time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from recv, got %v", err)
	}
	if err := tr.SendTo(addr, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from send, got %v", err)
	}
}

func TestSendMessageReassemblesAcrossFrames(t *testing.T) {
	log := testlog.Start(t)
	cfg := testSession()
	rxT := newListener(t, log, cfg)
	rx := startReceiver(t, log, rxT)
	tx := newSender(t, log, cfg, rxT.LocalAddr().String())

	msg := payload(1, 10000)
	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("send message: %v", err)
	}
	got, ok := rx.Next(2 * time.Second)
	if !ok {
		t.Fatalf("expected a completed message")
	}
	if !bytes.Equal(got.Data, msg) {
		t.Fatalf("payload mismatch: got %d bytes want %d", len(got.Data), len(msg))
	}
	if got.Host != "127.0.0.1" || got.Addr == nil || got.Peer != got.Addr.String() {
		t.Fatalf("unexpected source: %+v", got)
	}
}

func TestReceiverSeparatesInterleavedPeers(t *testing.T) {
	log := testlog.Start(t)
	cfg := testSession()
	rxT := newListener(t, log, cfg)
	rx := startReceiver(t, log, rxT)
	a := newSender(t, log, cfg, rxT.LocalAddr().String())
	b := newSender(t, log, cfg, rxT.LocalAddr().String())

	msgA := payload(2, 3000)
	msgB := payload(3, 2000)
	framesA, err := protocol.Encode(msgA, cfg.FrameSize)
	if err != nil {
		t.Fatalf("encode a: %v", err)
	}
	framesB, err := protocol.Encode(msgB, cfg.FrameSize)
	if err != nil {
		t.Fatalf("encode b: %v", err)
	}
	for i := 0; i < max(len(framesA), len(framesB)); i++ {
		if i < len(framesA) {
			if err := a.Send(framesA[i]); err != nil {
				t.Fatalf("send a[%d]: %v", i, err)
			}
		}
		if i < len(framesB) {
			if err := b.Send(framesB[i]); err != nil {
				t.Fatalf("send b[%d]: %v", i, err)
			}
		}
	}

	seen := map[int]bool{}
	for range 2 {
		got, ok := rx.Next(2 * time.Second)
		if !ok {
			t.Fatalf("expected two completed messages, got %d", len(seen))
		}
		switch {
		case bytes.Equal(got.Data, msgA):
			seen[0] = true
		case bytes.Equal(got.Data, msgB):
			seen[1] = true
		default:
			t.Fatalf("unexpected message of %d bytes", len(got.Data))
		}
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("missing peer message: %+v", seen)
	}
}

func TestReceiverDropsCorruptedMessage(t *testing.T) {
	log := testlog.Start(t)
	cfg := testSession()
	rxT := newListener(t, log, cfg)
	rx := startReceiver(t, log, rxT)
	tx := newSender(t, log, cfg, rxT.LocalAddr().String())

	bad, err := protocol.Encode(payload(4, 1500), cfg.FrameSize)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	last := bad[len(bad)-2]
	last[len(last)-1] ^= 0xff
	for _, frame := range bad {
		if err := tx.Send(frame); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	good := []byte("after corruption")
	if err := tx.SendMessage(good); err != nil {
		t.Fatalf("send good: %v", err)
	}

	got, ok := rx.Next(2 * time.Second)
	if !ok {
		t.Fatalf("expected the good message")
	}
	if !bytes.Equal(got.Data, good) {
		t.Fatalf("expected only the good message, got %q", got.Data)
	}
}

func TestReceiverStopsPromptly(t *testing.T) {
	log := testlog.Start(t)
	cfg := testSession()
	rxT := newListener(t, log, cfg)
	rx := NewReceiver(rxT, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rx.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	start := time.Now()
	rx.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stop took %v", elapsed)
	}
	select {
	case <-rx.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
	if _, ok := rx.Next(0); ok {
		t.Fatalf("expected no message after stop")
	}
	if _, err := rx.NextContext(context.Background()); !errors.Is(err, ErrReceiverStopped) {
		t.Fatalf("expected ErrReceiverStopped, got %v", err)
	}
}

func TestNextTimesOut(t *testing.T) {
	log := testlog.Start(t)
	rx := startReceiver(t, log, newListener(t, log, testSession()))
	if _, ok := rx.Next(20 * time.Millisecond); ok {
		t.Fatalf("expected timeout with no traffic")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rx.NextContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSendMessageAbortsOnShortWrite(t *testing.T) {
	log := testlog.Start(t)
	tr := newSender(t, log, testSession(), "127.0.0.1:9")

	var calls int
	tr.writeTo = func(_ *net.UDPConn, b []byte, _ *net.UDPAddr) (int, error) {
		calls++
		if calls == 2 {
			return len(b) - 1, nil
		}
		return len(b), nil
	}
	err := tr.SendMessage(payload(7, 4000))
	if !errors.Is(err, ErrShortWrite) {
		t.Fatalf("expected ErrShortWrite, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected send to stop after the short frame, got %d writes", calls)
	}
}

func TestSendMessageAbortsOnWriteError(t *testing.T) {
	log := testlog.Start(t)
	tr := newSender(t, log, testSession(), "127.0.0.1:9")

	boom := errors.New("network unreachable")
	var calls int
	tr.writeTo = func(_ *net.UDPConn, b []byte, _ *net.UDPAddr) (int, error) {
		calls++
		if calls == 3 {
			return 0, boom
		}
		return len(b), nil
	}
	err := tr.SendMessage(payload(8, 4000))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected send to stop at the failing frame, got %d writes", calls)
	}
}

func TestReceiverPausesOnPersistentRecvError(t *testing.T) {
	log := testlog.Start(t)
	tr := newListener(t, log, testSession())

	var calls atomic.Int64
	rx := NewReceiver(tr, log)
	rx.recv = func(time.Duration) (Datagram, error) {
		calls.Add(1)
		return Datagram{}, errors.New("connection refused")
	}
	if err := rx.Start(context.Background()); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	rx.Stop()

	// One RecvTimeout (25ms) pause per error bounds the loop to about 8 calls.
	if n := calls.Load(); n < 2 || n > 20 {
		t.Fatalf("expected the loop to pause between errors, got %d recv calls", n)
	}
}

func TestReceiverExpiresIdlePartialMessage(t *testing.T) {
	log := testlog.Start(t)
	cfg := testSession()
	cfg.PeerIdleTimeout = 50 * time.Millisecond
	rx := newListener(t, log, cfg)
	queue := startReceiver(t, log, rx)
	tx := newSender(t, log, cfg, rx.LocalAddr().String())

	frames, err := protocol.Encode(payload(9, 2000), cfg.FrameSize)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := tx.Send(frames[0]); err != nil {
		t.Fatalf("send first frame: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	for _, f := range frames[1:] {
		if err := tx.Send(f); err != nil {
			t.Fatalf("send frame: %v", err)
		}
	}
	if msg, ok := queue.Next(300 * time.Millisecond); ok {
		t.Fatalf("expired message completed anyway: %d bytes", len(msg.Data))
	}

	want := payload(10, 2000)
	if err := tx.SendMessage(want); err != nil {
		t.Fatalf("send message: %v", err)
	}
	msg, ok := queue.Next(2 * time.Second)
	if !ok || !bytes.Equal(msg.Data, want) {
		t.Fatalf("peer did not recover after expiry")
	}
}
