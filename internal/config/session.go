package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/perfctl/internal/protocol/session"
)

type sessionFile struct {
	FrameSize         int     `toml:"frame_size"`
	ReadBufferSize    int     `toml:"read_buffer_size"`
	QueueSize         int     `toml:"queue_size"`
	PeerIdleTimeout   string  `toml:"peer_idle_timeout"`
	RecvTimeout       string  `toml:"recv_timeout"`
	AckTimeout        string  `toml:"ack_timeout"`
	VerifyAttempts    int     `toml:"verify_attempts"`
	MaxMessageBytes   int     `toml:"max_message_bytes"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
}

// applySession overlays the [session] keys present in the file onto cfg.
func applySession(meta toml.MetaData, raw sessionFile, cfg *session.Config) error {
	defined := func(key string) bool { return meta.IsDefined("session", key) }

	if defined("frame_size") {
		cfg.FrameSize = raw.FrameSize
	}
	if defined("read_buffer_size") {
		cfg.ReadBufferSize = raw.ReadBufferSize
	}
	if defined("queue_size") {
		cfg.QueueSize = raw.QueueSize
	}
	if defined("verify_attempts") {
		cfg.VerifyAttempts = raw.VerifyAttempts
	}
	if defined("max_message_bytes") {
		cfg.Limits.MaxMessageBytes = raw.MaxMessageBytes
	}
	if defined("backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if defined("backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"recv_timeout", raw.RecvTimeout, &cfg.RecvTimeout},
		{"ack_timeout", raw.AckTimeout, &cfg.AckTimeout},
		{"peer_idle_timeout", raw.PeerIdleTimeout, &cfg.PeerIdleTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
