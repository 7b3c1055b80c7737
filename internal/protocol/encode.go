package protocol

import (
	"fmt"
	"hash/crc32"
	"strconv"
)

// Encode splits message into frames of at most capacity bytes.
//
// Each frame starts with the decimal message length and Separator. The first
// frame carries the begin header (marker, length, crc32) and the last frame
// ends with EndMarker; neither is ever split across frames.
func Encode(message []byte, capacity int) ([][]byte, error) {
	prefix := LengthPrefix(len(message))
	header := beginHeader(len(message), crc32.ChecksumIEEE(message))

	usable := capacity - len(prefix)
	if usable < len(header) || usable < len(EndMarker) {
		return nil, fmt.Errorf(
			"%w: capacity=%d prefix=%d header=%d",
			ErrCapacityTooSmall,
			capacity,
			len(prefix),
			len(header),
		)
	}

	stream := make([]byte, 0, len(header)+len(message)+len(EndMarker))
	stream = append(stream, header...)
	stream = append(stream, message...)
	stream = append(stream, EndMarker...)

	tail := len(stream) - len(EndMarker)
	frames := make([][]byte, 0, len(stream)/usable+1)
	for off := 0; off < len(stream); {
		end := min(off+usable, len(stream))
		if end < len(stream) && end > tail {
			end = tail
		}
		frame := make([]byte, 0, len(prefix)+end-off)
		frame = append(frame, prefix...)
		frame = append(frame, stream[off:end]...)
		frames = append(frames, frame)
		off = end
	}
	return frames, nil
}

// LengthPrefix is the per-frame prefix for a message of n bytes.
func LengthPrefix(n int) string {
	return strconv.Itoa(n) + Separator
}

// MinCapacity returns a frame capacity Encode accepts for any n-byte message.
func MinCapacity(n int) int {
	header := len(beginHeader(n, ^uint32(0)))
	return len(LengthPrefix(n)) + max(header, len(EndMarker))
}

func beginHeader(n int, crc uint32) string {
	return BeginMarker +
		strconv.Itoa(n) + Separator +
		strconv.FormatUint(uint64(crc), 10) + Separator
}
