package stream

import (
	"fmt"
	"io"

	"github.com/kilupskalvis/artvault/internal/models"
)

// InputStream is a reader that digests every byte it returns.
// It is owned by a single caller and is not safe for concurrent use.
type InputStream struct {
	r       io.Reader
	closer  io.Closer
	opts    *options
	digests *digestSet
	ranges  []models.ByteRange
	count   int64
	eof     bool
	closed  bool
}

// NewInputStream wraps r. If r is an io.Closer, Close closes it.
func NewInputStream(r io.Reader, opts ...Option) (*InputStream, error) {
	o, digests, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &InputStream{r: r, opts: o, digests: digests}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// NewRangeInputStream serves only the given ranges of ra, in order. closer
// may be nil. Ranges must be ascending and non-overlapping and, when a length
// is declared, must lie inside it.
func NewRangeInputStream(ra io.ReaderAt, closer io.Closer, ranges []models.ByteRange, opts ...Option) (*InputStream, error) {
	o, digests, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := ValidateRanges(ranges, o.length); err != nil {
		return nil, err
	}

	readers := make([]io.Reader, len(ranges))
	for i, br := range ranges {
		readers[i] = &exactReader{r: io.NewSectionReader(ra, br.Offset, br.Length), remaining: br.Length}
	}

	return &InputStream{
		r:       io.MultiReader(readers...),
		closer:  closer,
		opts:    o,
		digests: digests,
		ranges:  append([]models.ByteRange(nil), ranges...),
	}, nil
}

// Read implements io.Reader.
func (s *InputStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.opts.ctxErr(); err != nil {
		return 0, err
	}
	n, err := s.r.Read(p)
	if n > 0 {
		s.digests.update(p[:n])
		s.count += int64(n)
	}
	if err == io.EOF && !s.eof {
		s.eof = true
		s.digests.finalize()
	}
	return n, err
}

// Close releases the underlying reader. A stream closed before EOF keeps
// its digests unavailable.
func (s *InputStream) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Digest returns the raw digest for algorithm. It fails with ErrIllegalState
// until the stream has been read to EOF.
func (s *InputStream) Digest(algorithm string) ([]byte, error) {
	if !s.eof {
		return nil, fmt.Errorf("digest %s after %d bytes: %w", algorithm, s.count, ErrIllegalState)
	}
	return s.digests.digest(algorithm)
}

// Digests returns every tracked digest hex-encoded, keyed by algorithm.
func (s *InputStream) Digests() (map[string]string, error) {
	if !s.eof {
		return nil, fmt.Errorf("digests after %d bytes: %w", s.count, ErrIllegalState)
	}
	return s.digests.hexAll(), nil
}

// Algorithms returns the tracked algorithm names.
func (s *InputStream) Algorithms() []string { return append([]string(nil), s.digests.names...) }

// Length returns the declared total length, or UnknownLength.
func (s *InputStream) Length() int64 { return s.opts.length }

// SetLength sets the declared total length.
func (s *InputStream) SetLength(n int64) { s.opts.length = n }

// Count returns the number of bytes read so far.
func (s *InputStream) Count() int64 { return s.count }

// Coordinates returns the bound artifact coordinates, or nil.
func (s *InputStream) Coordinates() models.Coordinates { return s.opts.coords }

// SetCoordinates binds the stream to an artifact.
func (s *InputStream) SetCoordinates(c models.Coordinates) { s.opts.coords = c }

// Ranges returns the byte ranges this stream is restricted to, if any.
func (s *InputStream) Ranges() []models.ByteRange { return s.ranges }

// Expected returns the number of bytes a full read yields: the sum of the
// ranges for a ranged stream, the declared length otherwise.
func (s *InputStream) Expected() int64 {
	if len(s.ranges) == 0 {
		return s.opts.length
	}
	var total int64
	for _, r := range s.ranges {
		total += r.Length
	}
	return total
}

// exactReader turns a short section into io.ErrUnexpectedEOF instead of a
// silently truncated range.
type exactReader struct {
	r         io.Reader
	remaining int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.remaining {
		p = p[:e.remaining]
	}
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	if err == io.EOF && e.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// ValidateRanges checks that ranges are non-empty, ascending,
// non-overlapping and, when total is known, inside [0, total).
func ValidateRanges(ranges []models.ByteRange, total int64) error {
	if len(ranges) == 0 {
		return fmt.Errorf("%w: empty range set", models.ErrConfiguration)
	}
	for i, r := range ranges {
		if r.Offset < 0 || r.Length <= 0 {
			return fmt.Errorf("%w: invalid range %s", models.ErrConfiguration, r)
		}
		if i > 0 && r.Offset < ranges[i-1].End() {
			return fmt.Errorf("%w: range %s overlaps or precedes %s", models.ErrConfiguration, r, ranges[i-1])
		}
		if total >= 0 && r.End() > total {
			return fmt.Errorf("%w: range %s exceeds length %d", models.ErrConfiguration, r, total)
		}
	}
	return nil
}
