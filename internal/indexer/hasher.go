package indexer

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/dshills/apilookup-mcp/internal/storage"
)

// hashBufferSize bounds memory used while hashing, independent of file size
const hashBufferSize = 64 * 1024

// Digest computes the SHA-256 of the file at path
func Digest(path string) (storage.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return storage.Digest{}, err
	}
	defer func() { _ = file.Close() }()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return storage.Digest{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	var result storage.Digest
	copy(result[:], h.Sum(nil))
	return result, nil
}

// DigestReader hashes every byte read through it
type DigestReader struct {
	r io.Reader
	h hash.Hash
}

// NewDigestReader wraps r so the bytes consumed can be digested afterwards
func NewDigestReader(r io.Reader) *DigestReader {
	h := sha256.New()
	return &DigestReader{r: io.TeeReader(r, h), h: h}
}

func (d *DigestReader) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

// Sum returns the digest of the bytes read so far
func (d *DigestReader) Sum() storage.Digest {
	var result storage.Digest
	copy(result[:], d.h.Sum(nil))
	return result
}
