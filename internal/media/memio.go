package media

import (
	"errors"
	"io"
)

// memWriteSeeker is an in-memory io.WriteSeeker for container writers that
// need to seek back into the header (the WAV encoder does).
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memWriteSeeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memWriteSeeker: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
