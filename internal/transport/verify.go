package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/perfctl/internal/observability"
	"github.com/danmuck/perfctl/internal/protocol"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAckTimeout  = errors.New("transport: ack timeout")
	ErrAckRejected = errors.New("transport: ack rejected")
)

// VerifiedSend sends payload to dest from a fresh ephemeral socket and waits
// up to Session.AckTimeout for a matching ack. It makes exactly one attempt;
// callers retry with session.WaitBackoff.
func VerifiedSend(ctx context.Context, cfg Config, log zerolog.Logger, dest string, payload []byte) error {
	started := time.Now()
	err := verifiedSend(ctx, cfg, log, dest, payload)
	observability.RecordVerifiedSend(cfg.Node, time.Since(started), err == nil)
	return err
}

func verifiedSend(ctx context.Context, cfg Config, log zerolog.Logger, dest string, payload []byte) error {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return fmt.Errorf("transport: resolve %q: %w", dest, err)
	}
	cfg.Destination = ""
	cfg.Bind = ":0"
	tr, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer tr.Close()
	if err := tr.Bind(); err != nil {
		return err
	}

	req := session.VerifyRequest{
		Token:       uuid.NewString(),
		Sender:      tr.Node(),
		Payload:     payload,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	raw, err := session.EncodeVerifyRequest(req)
	if err != nil {
		return err
	}
	if err := tr.SendMessageTo(addr, raw); err != nil {
		return err
	}

	logger := tr.log.With().Str("dest", addr.String()).Str("token", req.Token).Logger()
	sess := tr.Session()
	deadline := time.Now().Add(sess.AckTimeout)
	table := protocol.NewPeerTable(sess.Limits)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn().Dur("ack_timeout", sess.AckTimeout).Msg("no ack received")
			return ErrAckTimeout
		}
		dg, err := tr.Recv(min(remaining, sess.RecvTimeout))
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		res := table.Feed(dg.Addr.String(), dg.Data)
		if !res.Ready() {
			continue
		}
		ack, err := session.DecodeVerifyAck(res.Message)
		if err != nil || ack.Token != req.Token {
			logger.Debug().Str("peer", dg.Addr.String()).Msg("ignoring unrelated reply")
			continue
		}
		if !dg.Addr.IP.Equal(addr.IP) {
			logger.Debug().Str("peer", dg.Addr.String()).Msg("ack arrived from a different address")
		}
		if ack.Status == session.AckStatusRejected {
			return fmt.Errorf("%w: %s: %s", ErrAckRejected, ack.Receiver, ack.Message)
		}
		logger.Debug().Str("receiver", ack.Receiver).Msg("ack received")
		return nil
	}
}

// Acknowledge handles a verify request carried by msg. handle receives the
// wrapped payload; the reply is accepted when it returns nil and rejected
// otherwise. The handler error is returned so the caller can act on it.
func Acknowledge(tr *Transport, msg Message, receiver string, handle func(payload []byte) error) error {
	req, err := session.DecodeVerifyRequest(msg.Data)
	if err != nil {
		return err
	}
	handleErr := handle(req.Payload)

	ack := session.VerifyAck{
		Token:       req.Token,
		Receiver:    strings.TrimSpace(receiver),
		Status:      session.AckStatusAccepted,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if handleErr != nil {
		ack.Status = session.AckStatusRejected
		ack.Message = handleErr.Error()
	}
	raw, err := session.EncodeVerifyAck(ack)
	if err != nil {
		return err
	}
	if err := tr.SendMessageTo(msg.Addr, raw); err != nil {
		return err
	}
	return handleErr
}
