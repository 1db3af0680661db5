package models

import "fmt"

// ByteRange is an (offset, length) window over an artifact's content.
// Parsing transport range headers into ByteRange values happens upstream.
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// End returns the exclusive end offset.
func (r ByteRange) End() int64 {
	return r.Offset + r.Length
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d+%d", r.Offset, r.Length)
}
