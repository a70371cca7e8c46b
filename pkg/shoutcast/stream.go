package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *Metadata)

// StatusError is returned by Dial when the server answers with anything but 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Stream represents an open shoutcast stream.
type Stream struct {
	Header

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Stream metadata
	metadata *Metadata

	// The number of audio bytes read since last metadata block
	pos int

	// Number of metadata frames seen, empty frames included
	frames int

	r  io.Reader
	rc io.Closer
}

// Dial connects to addr and requests path with in-band metadata enabled.
func Dial(ctx context.Context, addr, path string) (*Stream, error) {
	// Timeout for establishing the connection only; the stream itself is read indefinitely.
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	req := fmt.Sprintf("GET %s HTTP/1.0\r\nUser-Agent: shouter\r\nIcy-MetaData: 1\r\n\r\n", path)
	if _, err := io.WriteString(conn, req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	br := bufio.NewReader(conn)
	status, h, err := ReadHeader(br)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if status != 200 {
		_ = conn.Close()
		return nil, &StatusError{Code: status}
	}

	return NewStream(br, conn, h), nil
}

// NewStream wraps an already negotiated body. When h.MetaInt is zero the
// body is passed through untouched.
func NewStream(r io.Reader, c io.Closer, h Header) *Stream {
	return &Stream{
		Header: h,
		r:      r,
		rc:     c,
	}
}

// Metadata returns the most recent non-empty metadata frame.
func (s *Stream) Metadata() *Metadata {
	return s.metadata
}

// Frames returns how many metadata frames have been consumed.
func (s *Stream) Frames() int {
	return s.frames
}

// Read implements the standard Read interface, returning audio bytes only.
func (s *Stream) Read(buf []byte) (int, error) {
	if s.MetaInt <= 0 {
		return s.r.Read(buf)
	}

	if s.pos == s.MetaInt {
		if err := s.readMetadata(); err != nil {
			return 0, err
		}
		s.pos = 0
	}

	// Never read past the next metadata block.
	want := len(buf)
	if left := s.MetaInt - s.pos; want > left {
		want = left
	}

	n, err := s.r.Read(buf[:want])
	s.pos += n
	return n, err
}

func (s *Stream) readMetadata() error {
	var lenByte [1]byte
	if _, err := io.ReadFull(s.r, lenByte[:]); err != nil {
		return err
	}
	s.frames++

	blockLen := int(lenByte[0]) * MetadataBlockSize
	if blockLen == 0 {
		// Empty metadata block, nothing more to read
		return nil
	}

	metaBuf := make([]byte, blockLen)
	if _, err := io.ReadFull(s.r, metaBuf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if m := NewMetadata(metaBuf); !m.Equals(s.metadata) {
		s.metadata = m
		if s.MetadataCallbackFunc != nil {
			s.MetadataCallbackFunc(s.metadata)
		}
	}

	return nil
}

// Close closes the stream
func (s *Stream) Close() error {
	if s.rc == nil {
		return nil
	}
	return s.rc.Close()
}
