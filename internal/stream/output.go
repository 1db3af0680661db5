package stream

import (
	"fmt"
	"io"

	"github.com/kilupskalvis/artvault/internal/models"
)

// Aborter is implemented by sinks that can discard a partial write,
// such as a temp file that would otherwise be renamed into place on Close.
type Aborter interface {
	Abort() error
}

// OutputStream is a writer that digests every byte it accepts. Digests
// become available once Close returns.
type OutputStream struct {
	w       io.Writer
	closer  io.Closer
	opts    *options
	digests *digestSet
	count   int64
	closed  bool
}

// NewOutputStream wraps w. If w is an io.Closer, Close closes it.
func NewOutputStream(w io.Writer, opts ...Option) (*OutputStream, error) {
	o, digests, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &OutputStream{w: w, opts: o, digests: digests}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// Write implements io.Writer.
func (s *OutputStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.opts.ctxErr(); err != nil {
		return 0, err
	}
	n, err := s.w.Write(p)
	if n > 0 {
		s.digests.update(p[:n])
		s.count += int64(n)
	}
	return n, err
}

// Close closes the underlying writer and then finalizes the digests. If
// the writer fails to close, the digests stay unavailable.
func (s *OutputStream) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return err
		}
	}
	s.digests.finalize()
	return nil
}

// Abort closes the stream discarding what was written, when the sink
// supports it. Digests stay unavailable.
func (s *OutputStream) Abort() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if a, ok := s.w.(Aborter); ok {
		return a.Abort()
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Digest returns the raw digest for algorithm; ErrIllegalState before Close.
func (s *OutputStream) Digest(algorithm string) ([]byte, error) {
	if s.digests.sums == nil {
		return nil, fmt.Errorf("digest %s after %d bytes: %w", algorithm, s.count, ErrIllegalState)
	}
	return s.digests.digest(algorithm)
}

// Digests returns every tracked digest hex-encoded, keyed by algorithm.
func (s *OutputStream) Digests() (map[string]string, error) {
	if s.digests.sums == nil {
		return nil, fmt.Errorf("digests after %d bytes: %w", s.count, ErrIllegalState)
	}
	return s.digests.hexAll(), nil
}

func (s *OutputStream) Algorithms() []string                { return append([]string(nil), s.digests.names...) }
func (s *OutputStream) Length() int64                       { return s.opts.length }
func (s *OutputStream) SetLength(n int64)                   { s.opts.length = n }
func (s *OutputStream) Count() int64                        { return s.count }
func (s *OutputStream) Coordinates() models.Coordinates     { return s.opts.coords }
func (s *OutputStream) SetCoordinates(c models.Coordinates) { s.opts.coords = c }
