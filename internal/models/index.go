package models

import "time"

// IndexEntry is the index record of one artifact file in a repository.
type IndexEntry struct {
	Path      string            `json:"path" cbor:"1,keyasint"`
	Size      int64             `json:"size" cbor:"2,keyasint"`
	Checksums map[string]string `json:"checksums,omitempty" cbor:"3,keyasint,omitempty"` // algorithm -> hex digest
	IndexedAt time.Time         `json:"indexed_at" cbor:"4,keyasint"`
}
