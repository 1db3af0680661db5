package index

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names accepted by WriteSnapshot.
const (
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

const snapshotVersion = 1

var snapshotMagic = []byte("AVIX")

var codecTags = map[string]byte{CodecZstd: 1, CodecLZ4: 2}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	snapshotEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("index: CBOR encoder initialization failed: " + err.Error())
	}

	snapshotDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("index: CBOR decoder initialization failed: " + err.Error())
	}
}

// Snapshot is the packed, read-only form of a repository index.
type Snapshot struct {
	Repository string               `cbor:"1,keyasint"`
	CreatedAt  time.Time            `cbor:"2,keyasint"`
	Entries    []*models.IndexEntry `cbor:"3,keyasint"`
}

// ErrBadSnapshot is returned by ReadSnapshot for input that is not a snapshot.
var ErrBadSnapshot = errors.New("not an index snapshot")

// WriteSnapshot writes every entry of idx to w: a short header naming the
// codec, then the CBOR encoded Snapshot compressed with that codec. The
// encoding is deterministic for a given index content and timestamp.
func WriteSnapshot(ctx context.Context, w io.Writer, idx Index, repository, codec string, createdAt time.Time) (int, error) {
	if codec == "" {
		codec = CodecZstd
	}
	tag, ok := codecTags[codec]
	if !ok {
		return 0, fmt.Errorf("%w: unknown snapshot codec %q", models.ErrConfiguration, codec)
	}

	snap := Snapshot{Repository: repository, CreatedAt: createdAt.UTC()}
	if err := idx.ForEach(ctx, func(e *models.IndexEntry) error {
		snap.Entries = append(snap.Entries, e)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("read index: %w", err)
	}

	header := append(append([]byte{}, snapshotMagic...), snapshotVersion, tag)
	if _, err := w.Write(header); err != nil {
		return 0, fmt.Errorf("write snapshot header: %w", err)
	}

	cw, err := newCompressor(codec, w)
	if err != nil {
		return 0, err
	}
	if err := snapshotEncMode.NewEncoder(cw).Encode(&snap); err != nil {
		cw.Close()
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("flush snapshot: %w", err)
	}
	return len(snap.Entries), nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	header := make([]byte, len(snapshotMagic)+2)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if !bytes.Equal(header[:len(snapshotMagic)], snapshotMagic) {
		return nil, ErrBadSnapshot
	}
	if v := header[len(snapshotMagic)]; v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}

	var dr io.Reader
	switch header[len(snapshotMagic)+1] {
	case codecTags[CodecZstd]:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		dr = zr
	case codecTags[CodecLZ4]:
		dr = lz4.NewReader(br)
	default:
		return nil, fmt.Errorf("%w: unknown codec tag %d", ErrBadSnapshot, header[len(snapshotMagic)+1])
	}

	var snap Snapshot
	if err := snapshotDecMode.NewDecoder(dr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func newCompressor(codec string, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return zw, nil
	}
}
