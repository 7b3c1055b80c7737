package collector

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// hostLog forwards a remote agent's output to the collector log one line at
// a time and remembers the last line for error reports.
type hostLog struct {
	log   zerolog.Logger
	level zerolog.Level

	mu   sync.Mutex
	buf  []byte
	last string
}

func newHostLog(log zerolog.Logger, level zerolog.Level) *hostLog {
	return &hostLog{log: log, level: level}
}

func (w *hostLog) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Close emits any unterminated tail and returns the last non-empty line.
func (w *hostLog) Close() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
	return w.last
}

func (w *hostLog) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	w.last = line
	w.log.WithLevel(w.level).Msg(line)
}
