package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
)

// Decoder reassembles the frames of one peer into messages.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	limits      Limits
	inProgress  bool
	declaredLen int
	expectedCRC uint32
	buf         bytes.Buffer
}

func NewDecoder(limits Limits) *Decoder {
	if limits.MaxMessageBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Decoder{limits: limits}
}

// InProgress reports whether a message has begun and not yet completed.
func (d *Decoder) InProgress() bool {
	return d.inProgress
}

// Buffered returns the number of message bytes accumulated so far.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Reset abandons any partial message.
func (d *Decoder) Reset() {
	d.inProgress = false
	d.declaredLen = 0
	d.expectedCRC = 0
	d.buf.Reset()
}

// Feed consumes one raw frame. It never returns an error directly: malformed
// or inconsistent frames reset the decoder and yield a rejected Result.
func (d *Decoder) Feed(raw []byte) Result {
	declared, payload, err := splitPrefix(raw)
	if err != nil {
		return d.reject(err)
	}

	if i := bytes.Index(payload, []byte(BeginMarker)); i >= 0 {
		d.Reset()
		dataLen, crc, rest, err := parseBeginHeader(payload[i+len(BeginMarker):])
		if err != nil {
			return d.reject(err)
		}
		if dataLen > d.limits.MaxMessageBytes {
			return d.reject(fmt.Errorf("%w: declared=%d max=%d", ErrMessageTooLarge, dataLen, d.limits.MaxMessageBytes))
		}
		d.inProgress = true
		d.declaredLen = dataLen
		d.expectedCRC = crc
		payload = rest
	}

	if !d.inProgress {
		return d.reject(ErrNoMessageInProgress)
	}
	if declared != d.declaredLen {
		return d.reject(fmt.Errorf("%w: frame=%d message=%d", ErrLengthMismatch, declared, d.declaredLen))
	}

	isEnd := false
	if i := bytes.Index(payload, []byte(EndMarker)); i >= 0 {
		payload = payload[:i]
		isEnd = true
	}

	if d.buf.Len()+len(payload) > d.declaredLen {
		return d.reject(fmt.Errorf("%w: have=%d adding=%d message=%d", ErrOverflow, d.buf.Len(), len(payload), d.declaredLen))
	}
	d.buf.Write(payload)

	if !isEnd {
		return pending()
	}

	if d.buf.Len() != d.declaredLen {
		return d.reject(fmt.Errorf("%w: got=%d want=%d", ErrTotalSizeMismatch, d.buf.Len(), d.declaredLen))
	}
	if sum := crc32.ChecksumIEEE(d.buf.Bytes()); sum != d.expectedCRC {
		return d.reject(fmt.Errorf("%w: got=%d want=%d", ErrChecksumMismatch, sum, d.expectedCRC))
	}

	msg := make([]byte, d.buf.Len())
	copy(msg, d.buf.Bytes())
	d.Reset()
	return ready(msg)
}

func (d *Decoder) reject(err error) Result {
	d.Reset()
	return rejected(err)
}

func splitPrefix(raw []byte) (int, []byte, error) {
	field, rest, ok := bytes.Cut(raw, []byte(Separator))
	if !ok {
		return 0, nil, fmt.Errorf("%w: missing separator", ErrMalformedPrefix)
	}
	n, err := parseLength(field)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedPrefix, err)
	}
	return n, rest, nil
}

func parseBeginHeader(b []byte) (int, uint32, []byte, error) {
	lenField, rest, ok := bytes.Cut(b, []byte(Separator))
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: missing length separator", ErrMalformedHeader)
	}
	dataLen, err := parseLength(lenField)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: length: %v", ErrMalformedHeader, err)
	}

	crcField, rest, ok := bytes.Cut(rest, []byte(Separator))
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: missing crc separator", ErrMalformedHeader)
	}
	if err := checkDigits(crcField); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: crc: %v", ErrMalformedHeader, err)
	}
	crc, err := strconv.ParseUint(string(crcField), 10, 32)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: crc: %v", ErrMalformedHeader, err)
	}
	return dataLen, uint32(crc), rest, nil
}

// parseLength accepts only the canonical form strconv.Itoa writes.
func parseLength(b []byte) (int, error) {
	if err := checkDigits(b); err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

// checkDigits rejects signs, leading zeros and anything but ASCII digits.
func checkDigits(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty number")
	}
	if len(b) > 1 && b[0] == '0' {
		return fmt.Errorf("leading zero in %q", b)
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return fmt.Errorf("non-digit in %q", b)
		}
	}
	return nil
}
