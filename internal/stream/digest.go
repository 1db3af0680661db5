// Package stream wraps raw byte streams so that every byte crossing them is
// fed to a set of digest accumulators. Input streams may be restricted to a
// list of byte ranges; output streams finalize their digests on close.
package stream

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/zeebo/blake3"
)

// Digest algorithm names.
const (
	MD5    = "MD5"
	SHA1   = "SHA-1"
	SHA256 = "SHA-256"
	SHA512 = "SHA-512"
	BLAKE3 = "BLAKE3"
)

// DefaultAlgorithms is used when a stream is built without WithAlgorithms.
var DefaultAlgorithms = []string{MD5, SHA1}

var factories = map[string]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA512: sha512.New,
	BLAKE3: func() hash.Hash { return blake3.New() },
}

var aliases = map[string]string{
	"SHA1":   SHA1,
	"SHA256": SHA256,
	"SHA512": SHA512,
}

// Algorithms returns every supported algorithm name, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeAlgorithm maps a user-supplied name ("sha256", "Sha-1") to its
// canonical form. Unknown names return ErrConfiguration.
func NormalizeAlgorithm(name string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if canonical, ok := aliases[upper]; ok {
		upper = canonical
	}
	if _, ok := factories[upper]; !ok {
		return "", fmt.Errorf("%w: unsupported digest algorithm %q", models.ErrConfiguration, name)
	}
	return upper, nil
}

// digestSet feeds the same bytes to one accumulator per algorithm.
type digestSet struct {
	names  []string
	hashes map[string]hash.Hash
	w      io.Writer
	sums   map[string][]byte // nil until finalize
}

func newDigestSet(algorithms []string) (*digestSet, error) {
	d := &digestSet{hashes: make(map[string]hash.Hash, len(algorithms))}
	writers := make([]io.Writer, 0, len(algorithms))
	for _, a := range algorithms {
		name, err := NormalizeAlgorithm(a)
		if err != nil {
			return nil, err
		}
		if _, dup := d.hashes[name]; dup {
			continue
		}
		h := factories[name]()
		d.names = append(d.names, name)
		d.hashes[name] = h
		writers = append(writers, h)
	}
	d.w = io.MultiWriter(writers...)
	return d, nil
}

func (d *digestSet) update(p []byte) {
	// hash.Hash.Write never returns an error.
	_, _ = d.w.Write(p)
}

func (d *digestSet) finalize() {
	if d.sums != nil {
		return
	}
	d.sums = make(map[string][]byte, len(d.names))
	for _, name := range d.names {
		d.sums[name] = d.hashes[name].Sum(nil)
	}
}

func (d *digestSet) digest(algorithm string) ([]byte, error) {
	name, err := NormalizeAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	sum, ok := d.sums[name]
	if !ok {
		return nil, fmt.Errorf("%w: algorithm %s is not tracked by this stream", models.ErrConfiguration, name)
	}
	return append([]byte(nil), sum...), nil
}

func (d *digestSet) hexAll() map[string]string {
	out := make(map[string]string, len(d.sums))
	for name, sum := range d.sums {
		out[name] = hex.EncodeToString(sum)
	}
	return out
}
