package protocol

import "errors"

var (
	ErrCapacityTooSmall    = errors.New("protocol: frame capacity too small")
	ErrMalformedPrefix     = errors.New("protocol: malformed length prefix")
	ErrMalformedHeader     = errors.New("protocol: malformed begin header")
	ErrNoMessageInProgress = errors.New("protocol: no message in progress")
	ErrLengthMismatch      = errors.New("protocol: frame length does not match message length")
	ErrOverflow            = errors.New("protocol: accumulated data exceeds message length")
	ErrMessageTooLarge     = errors.New("protocol: message too large")
	ErrTotalSizeMismatch   = errors.New("protocol: total size mismatch")
	ErrChecksumMismatch    = errors.New("protocol: crc mismatch")
)

var reasons = []struct {
	err   error
	label string
}{
	{ErrMalformedPrefix, "malformed_prefix"},
	{ErrMalformedHeader, "malformed_header"},
	{ErrNoMessageInProgress, "no_message"},
	{ErrLengthMismatch, "length_mismatch"},
	{ErrOverflow, "overflow"},
	{ErrMessageTooLarge, "too_large"},
	{ErrTotalSizeMismatch, "total_size"},
	{ErrChecksumMismatch, "checksum"},
}

// Reason maps a rejection error to a stable label for logs and metrics.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "unknown"
}
