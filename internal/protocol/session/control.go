package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	envelopeTypeVerify    = "verify"
	envelopeTypeVerifyAck = "verify.ack"

	CommandStop    = "agent.stop"
	CommandCollect = "agent.collect"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

var (
	ErrInvalidVerifyRequest = errors.New("session: invalid verify request")
	ErrInvalidVerifyAck     = errors.New("session: invalid verify ack")
	ErrInvalidCommand       = errors.New("session: invalid control command")
)

// VerifyRequest wraps a payload that must be acknowledged by the receiver.
type VerifyRequest struct {
	Token       string `json:"token"`
	Sender      string `json:"sender"`
	Payload     []byte `json:"payload"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (r VerifyRequest) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidVerifyRequest)
	}
	if strings.TrimSpace(r.Sender) == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidVerifyRequest)
	}
	return nil
}

// VerifyAck confirms receipt of one VerifyRequest by echoing its token.
type VerifyAck struct {
	Token       string `json:"token"`
	Receiver    string `json:"receiver"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a VerifyAck) Validate() error {
	if strings.TrimSpace(a.Token) == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidVerifyAck)
	}
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidVerifyAck, a.Status)
	}
	return nil
}

// Command is an agent control instruction carried as a VerifyRequest payload.
type Command struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
}

func (c Command) Validate() error {
	switch strings.TrimSpace(c.Type) {
	case CommandStop, CommandCollect:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, c.Type)
	}
}

type envelope struct {
	Type   string         `json:"type"`
	Verify *VerifyRequest `json:"verify,omitempty"`
	Ack    *VerifyAck     `json:"verify_ack,omitempty"`
}

func EncodeVerifyRequest(req VerifyRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: envelopeTypeVerify, Verify: &req})
}

func DecodeVerifyRequest(b []byte) (VerifyRequest, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return VerifyRequest{}, fmt.Errorf("%w: %v", ErrInvalidVerifyRequest, err)
	}
	if env.Type != envelopeTypeVerify || env.Verify == nil {
		return VerifyRequest{}, fmt.Errorf("%w: unexpected envelope type %q", ErrInvalidVerifyRequest, env.Type)
	}
	if err := env.Verify.Validate(); err != nil {
		return VerifyRequest{}, err
	}
	return *env.Verify, nil
}

func EncodeVerifyAck(ack VerifyAck) ([]byte, error) {
	if err := ack.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: envelopeTypeVerifyAck, Ack: &ack})
}

func DecodeVerifyAck(b []byte) (VerifyAck, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return VerifyAck{}, fmt.Errorf("%w: %v", ErrInvalidVerifyAck, err)
	}
	if env.Type != envelopeTypeVerifyAck || env.Ack == nil {
		return VerifyAck{}, fmt.Errorf("%w: unexpected envelope type %q", ErrInvalidVerifyAck, env.Type)
	}
	if err := env.Ack.Validate(); err != nil {
		return VerifyAck{}, err
	}
	return *env.Ack, nil
}

func EncodeCommand(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cmd)
}

func DecodeCommand(b []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// IsVerifyRequest reports whether b looks like a verify envelope without fully validating it.
func IsVerifyRequest(b []byte) bool {
	env, err := decodeEnvelope(b)
	return err == nil && env.Type == envelopeTypeVerify
}

func decodeEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}
