package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/perfctl/internal/observability"
	"github.com/danmuck/perfctl/internal/protocol"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrTimeout       = errors.New("transport: receive timeout")
	ErrShortWrite    = errors.New("transport: short datagram write")
	ErrNoDestination = errors.New("transport: destination required")
	ErrClosed        = errors.New("transport: closed")
)

// Config configures one Transport.
type Config struct {
	// Node labels logs and metrics.
	Node string
	// Destination is the default host:port for Send and SendMessage.
	Destination string
	// Bind is the local address Recv listens on; ":0" picks an ephemeral port.
	Bind    string
	Session session.Config
}

// Datagram is one received frame and its source.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Transport owns the UDP sockets for one endpoint.
//
// Sends are safe from any goroutine. Recv must be called from a single
// goroutine at a time; the receive loop is that goroutine.
type Transport struct {
	cfg  Config
	log  zerolog.Logger
	dest *net.UDPAddr

	mu     sync.Mutex
	in     *net.UDPConn
	out    *net.UDPConn
	closed bool

	buf []byte
	// writeTo sends one datagram on conn.
	writeTo func(conn *net.UDPConn, b []byte, addr *net.UDPAddr) (int, error)
}

func New(cfg Config, log zerolog.Logger) (*Transport, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Node) == "" {
		cfg.Node = "perfctl"
	}
	t := &Transport{
		cfg:     cfg,
		log:     log.With().Str("component", "transport").Logger(),
		buf:     make([]byte, cfg.Session.ReadBufferSize),
		writeTo: (*net.UDPConn).WriteToUDP,
	}
	if dest := strings.TrimSpace(cfg.Destination); dest != "" {
		addr, err := net.ResolveUDPAddr("udp", dest)
		if err != nil {
			return nil, fmt.Errorf("transport: resolve destination %q: %w", dest, err)
		}
		t.dest = addr
	}
	return t, nil
}

// Session returns the effective session config.
func (t *Transport) Session() session.Config {
	return t.cfg.Session
}

// Node returns the node label.
func (t *Transport) Node() string {
	return t.cfg.Node
}

// Bind opens the listen socket if it is not open yet. Recv calls it lazily.
func (t *Transport) Bind() error {
	_, err := t.listener()
	return err
}

// LocalAddr returns the bound listen address, or nil before Bind.
func (t *Transport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.in == nil {
		return nil
	}
	return t.in.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to the configured destination.
func (t *Transport) Send(frame []byte) error {
	if t.dest == nil {
		return ErrNoDestination
	}
	return t.SendTo(t.dest, frame)
}

// SendTo writes one datagram to addr. A short write is an error and is not retried.
func (t *Transport) SendTo(addr *net.UDPAddr, frame []byte) error {
	if addr == nil {
		return ErrNoDestination
	}
	conn, err := t.writer()
	if err != nil {
		return err
	}
	n, err := t.writeTo(conn, frame, addr)
	if err != nil {
		observability.RecordSendError(t.cfg.Node)
		t.log.Error().Err(err).Str("dest", addr.String()).Msg("datagram send failed")
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	if n != len(frame) {
		observability.RecordSendError(t.cfg.Node)
		t.log.Error().Str("dest", addr.String()).Int("wrote", n).Int("len", len(frame)).Msg("short datagram write")
		return fmt.Errorf("%w: wrote %d of %d bytes to %s", ErrShortWrite, n, len(frame), addr)
	}
	return nil
}

// SendMessage frames message and sends every frame to the configured destination.
func (t *Transport) SendMessage(message []byte) error {
	if t.dest == nil {
		return ErrNoDestination
	}
	return t.SendMessageTo(t.dest, message)
}

// SendMessageTo frames message and sends the frames back to back to addr.
func (t *Transport) SendMessageTo(addr *net.UDPAddr, message []byte) error {
	frames, err := protocol.Encode(message, t.cfg.Session.FrameSize)
	if err != nil {
		return err
	}
	for i, frame := range frames {
		if err := t.SendTo(addr, frame); err != nil {
			observability.RecordFramesSent(t.cfg.Node, i)
			return err
		}
	}
	observability.RecordFramesSent(t.cfg.Node, len(frames))
	observability.RecordMessageSent(t.cfg.Node)
	t.log.Debug().
		Str("dest", addr.String()).
		Int("bytes", len(message)).
		Int("frames", len(frames)).
		Msg("message sent")
	return nil
}

// Recv waits up to timeout for one datagram. It returns ErrTimeout when
// nothing arrived, so callers can re-check cancellation and loop.
// A non-positive timeout uses the session RecvTimeout; Recv never blocks unbounded.
func (t *Transport) Recv(timeout time.Duration) (Datagram, error) {
	conn, err := t.listener()
	if err != nil {
		return Datagram{}, err
	}
	if timeout <= 0 {
		timeout = t.cfg.Session.RecvTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Datagram{}, t.readErr(err)
	}
	n, addr, err := conn.ReadFromUDP(t.buf)
	if err != nil {
		return Datagram{}, t.readErr(err)
	}
	data := make([]byte, n)
	copy(data, t.buf[:n])
	return Datagram{Data: data, Addr: addr}, nil
}

// Close releases both sockets. Pending Recv calls return ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	var errs []error
	if t.in != nil {
		errs = append(errs, t.in.Close())
		t.in = nil
	}
	if t.out != nil {
		errs = append(errs, t.out.Close())
		t.out = nil
	}
	return errors.Join(errs...)
}

func (t *Transport) listener() (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.in != nil {
		return t.in, nil
	}
	bind := strings.TrimSpace(t.cfg.Bind)
	if bind == "" {
		bind = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bind %q: %w", bind, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %q: %w", bind, err)
	}
	t.in = conn
	t.log.Info().Str("addr", conn.LocalAddr().String()).Msg("transport bound")
	return conn, nil
}

// writer prefers the bound socket so replies return to it; before binding it
// uses a lazily opened ephemeral socket.
func (t *Transport) writer() (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.in != nil {
		return t.in, nil
	}
	if t.out == nil {
		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return nil, fmt.Errorf("transport: open send socket: %w", err)
		}
		t.out = conn
	}
	return t.out, nil
}

func (t *Transport) readErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("transport: receive: %w", err)
}
