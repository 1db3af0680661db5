package stream

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContent(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func TestInputStream_DigestsAfterEOF(t *testing.T) {
	data := testContent(4096)

	s, err := NewInputStream(bytes.NewReader(data), WithAlgorithms(MD5, SHA256))
	require.NoError(t, err)

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), s.Count())

	sum, err := s.Digest(SHA256)
	require.NoError(t, err)
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], sum)

	sum, err = s.Digest("md5")
	require.NoError(t, err)
	wantMD5 := md5.Sum(data)
	assert.Equal(t, wantMD5[:], sum)

	require.NoError(t, s.Close())
}

func TestInputStream_DigestBeforeEOF(t *testing.T) {
	s, err := NewInputStream(bytes.NewReader(testContent(100)))
	require.NoError(t, err)

	buf := make([]byte, 10)
	_, err = s.Read(buf)
	require.NoError(t, err)

	_, err = s.Digest(MD5)
	assert.ErrorIs(t, err, ErrIllegalState)

	_, err = s.Digests()
	assert.ErrorIs(t, err, ErrIllegalState)

	// Closing early does not make a partial digest valid.
	require.NoError(t, s.Close())
	_, err = s.Digest(MD5)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestInputStream_ClosedOperations(t *testing.T) {
	s, err := NewInputStream(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
}

func TestInputStream_DefaultAndDisabledAlgorithms(t *testing.T) {
	s, err := NewInputStream(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithms, s.Algorithms())

	s, err = NewInputStream(bytes.NewReader([]byte("x")), WithAlgorithms())
	require.NoError(t, err)
	assert.Empty(t, s.Algorithms())
	_, err = io.ReadAll(s)
	require.NoError(t, err)
	digests, err := s.Digests()
	require.NoError(t, err)
	assert.Empty(t, digests)
}

func TestInputStream_UnknownAlgorithm(t *testing.T) {
	_, err := NewInputStream(bytes.NewReader(nil), WithAlgorithms("CRC32"))
	assert.ErrorIs(t, err, models.ErrConfiguration)

	s, err := NewInputStream(bytes.NewReader(nil), WithAlgorithms(MD5))
	require.NoError(t, err)
	_, err = io.ReadAll(s)
	require.NoError(t, err)
	_, err = s.Digest(SHA512)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestInputStream_LengthAndCoordinates(t *testing.T) {
	coords := models.RawCoordinates{RelPath: "a/b.bin"}
	s, err := NewInputStream(bytes.NewReader(nil), WithCoordinates(coords), WithLength(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.Length())
	assert.Equal(t, coords, s.Coordinates())

	s.SetLength(7)
	assert.Equal(t, int64(7), s.Length())
	assert.Equal(t, int64(7), s.Expected())
}

func TestInputStream_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewInputStream(bytes.NewReader(testContent(10)), WithContext(ctx))
	require.NoError(t, err)

	cancel()
	_, err = s.Read(make([]byte, 4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDigests_OutputMatchesInput(t *testing.T) {
	algorithms := Algorithms()
	for _, size := range []int{0, 1, 1000, 64 * 1024} {
		data := testContent(size)

		var sink bytes.Buffer
		out, err := NewOutputStream(&sink, WithAlgorithms(algorithms...))
		require.NoError(t, err)
		_, err = out.Write(data)
		require.NoError(t, err)
		require.NoError(t, out.Close())

		in, err := NewInputStream(bytes.NewReader(sink.Bytes()), WithAlgorithms(algorithms...))
		require.NoError(t, err)
		_, err = io.Copy(io.Discard, in)
		require.NoError(t, err)

		outDigests, err := out.Digests()
		require.NoError(t, err)
		inDigests, err := in.Digests()
		require.NoError(t, err)
		assert.Len(t, outDigests, len(algorithms))
		assert.Equal(t, outDigests, inDigests, "size %d", size)
	}
}

func TestOutputStream_DigestBeforeClose(t *testing.T) {
	out, err := NewOutputStream(io.Discard)
	require.NoError(t, err)
	_, err = out.Write([]byte("partial"))
	require.NoError(t, err)

	_, err = out.Digest(MD5)
	assert.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, out.Close())
	_, err = out.Digest(MD5)
	assert.NoError(t, err)

	_, err = out.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, out.Close(), ErrClosed)
}

type abortSink struct {
	bytes.Buffer
	aborted, closed bool
}

func (a *abortSink) Abort() error { a.aborted = true; return nil }
func (a *abortSink) Close() error { a.closed = true; return nil }

func TestOutputStream_Abort(t *testing.T) {
	sink := &abortSink{}
	out, err := NewOutputStream(sink)
	require.NoError(t, err)
	_, err = out.Write([]byte("discard me"))
	require.NoError(t, err)

	require.NoError(t, out.Abort())
	assert.True(t, sink.aborted)
	assert.False(t, sink.closed)

	_, err = out.Digests()
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.ErrorIs(t, out.Close(), ErrClosed)
}

type failingCloser struct{ bytes.Buffer }

func (f *failingCloser) Close() error { return errors.New("rename failed") }

func TestOutputStream_CloseFailureKeepsDigestsUnavailable(t *testing.T) {
	out, err := NewOutputStream(&failingCloser{})
	require.NoError(t, err)
	_, err = out.Write([]byte("never landed"))
	require.NoError(t, err)

	assert.EqualError(t, out.Close(), "rename failed")
	_, err = out.Digests()
	assert.ErrorIs(t, err, ErrIllegalState)
	_, err = out.Digest(MD5)
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.ErrorIs(t, out.Close(), ErrClosed)
}

func TestRangeInputStream_SingleRange(t *testing.T) {
	data := testContent(100)

	s, err := NewRangeInputStream(bytes.NewReader(data), nil,
		[]models.ByteRange{{Offset: 10, Length: 20}},
		WithAlgorithms(SHA256), WithLength(int64(len(data))))
	require.NoError(t, err)

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, data[10:30], got)
	assert.Equal(t, int64(20), s.Expected())
	assert.Equal(t, int64(100), s.Length())

	partial, err := s.Digest(SHA256)
	require.NoError(t, err)
	want := sha256.Sum256(data[10:30])
	assert.Equal(t, want[:], partial)

	full := sha256.Sum256(data)
	assert.NotEqual(t, full[:], partial)
}

func TestRangeInputStream_MultipleRanges(t *testing.T) {
	data := testContent(256)
	ranges := []models.ByteRange{{Offset: 0, Length: 5}, {Offset: 5, Length: 3}, {Offset: 200, Length: 56}}

	s, err := NewRangeInputStream(bytes.NewReader(data), nil, ranges)
	require.NoError(t, err)

	got, err := io.ReadAll(s)
	require.NoError(t, err)

	var want []byte
	want = append(want, data[0:8]...)
	want = append(want, data[200:256]...)
	assert.Equal(t, want, got)
	assert.Equal(t, ranges, s.Ranges())
}

func TestRangeInputStream_ShortSource(t *testing.T) {
	data := testContent(15)

	// No declared length, so validation cannot catch this; the read must.
	s, err := NewRangeInputStream(bytes.NewReader(data), nil, []models.ByteRange{{Offset: 10, Length: 20}})
	require.NoError(t, err)

	_, err = io.ReadAll(s)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		ranges  []models.ByteRange
		total   int64
		wantErr bool
	}{
		{"empty", nil, -1, true},
		{"ascending", []models.ByteRange{{Offset: 0, Length: 10}, {Offset: 10, Length: 5}}, 15, false},
		{"overlapping", []models.ByteRange{{Offset: 0, Length: 10}, {Offset: 5, Length: 10}}, -1, true},
		{"descending", []models.ByteRange{{Offset: 20, Length: 5}, {Offset: 0, Length: 5}}, -1, true},
		{"zero length", []models.ByteRange{{Offset: 0, Length: 0}}, -1, true},
		{"negative offset", []models.ByteRange{{Offset: -1, Length: 4}}, -1, true},
		{"past end", []models.ByteRange{{Offset: 90, Length: 20}}, 100, true},
		{"unknown total", []models.ByteRange{{Offset: 90, Length: 20}}, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRanges(tt.ranges, tt.total)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return nil }

func TestRangeInputStream_ClosesCloser(t *testing.T) {
	c := &closeCounter{}
	s, err := NewRangeInputStream(bytes.NewReader(testContent(10)), c, []models.ByteRange{{Offset: 0, Length: 1}})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, c.n)
}

func TestNormalizeAlgorithm(t *testing.T) {
	for in, want := range map[string]string{"sha1": SHA1, "Sha-256": SHA256, "sha512": SHA512, "blake3": BLAKE3, " md5 ": MD5} {
		got, err := NormalizeAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}
