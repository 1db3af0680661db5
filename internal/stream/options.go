package stream

import (
	"context"
	"errors"

	"github.com/kilupskalvis/artvault/internal/models"
)

var (
	// ErrClosed is returned by any read, write or close after Close.
	ErrClosed = errors.New("stream closed")

	// ErrIllegalState is returned when digests are requested before the
	// stream has been fully drained (input) or closed (output).
	ErrIllegalState = errors.New("stream not finalized")
)

// UnknownLength is the declared length of a stream whose size is not known.
const UnknownLength int64 = -1

type options struct {
	algorithms    []string
	algorithmsSet bool
	coords        models.Coordinates
	length        int64
	ctx           context.Context
}

// Option configures a stream at construction.
type Option func(*options)

// WithAlgorithms selects the digest algorithms. Calling it with no names
// disables digesting; not calling it selects DefaultAlgorithms.
func WithAlgorithms(algorithms ...string) Option {
	return func(o *options) {
		o.algorithms = algorithms
		o.algorithmsSet = true
	}
}

// WithCoordinates binds the stream to the artifact it carries.
func WithCoordinates(c models.Coordinates) Option {
	return func(o *options) { o.coords = c }
}

// WithLength sets the declared total length of the artifact.
func WithLength(n int64) Option {
	return func(o *options) { o.length = n }
}

// WithContext makes reads and writes fail with ctx.Err() once ctx is done.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func buildOptions(opts []Option) (*options, *digestSet, error) {
	o := &options{length: UnknownLength}
	for _, opt := range opts {
		opt(o)
	}
	algorithms := o.algorithms
	if !o.algorithmsSet {
		algorithms = DefaultAlgorithms
	}
	digests, err := newDigestSet(algorithms)
	if err != nil {
		return nil, nil, err
	}
	return o, digests, nil
}

func (o *options) ctxErr() error {
	if o.ctx == nil {
		return nil
	}
	return o.ctx.Err()
}
