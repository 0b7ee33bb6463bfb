package security

import (
	"encoding/hex"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Checksum hashes everything written through it with BLAKE2b-256.
type Checksum struct {
	h hash.Hash
}

func NewChecksum() *Checksum {
	h, _ := blake2b.New256(nil)
	return &Checksum{h: h}
}

func (c *Checksum) Write(p []byte) (int, error) {
	return c.h.Write(p)
}

// Reader returns r teed into the checksum.
func (c *Checksum) Reader(r io.Reader) io.Reader {
	return io.TeeReader(r, c.h)
}

func (c *Checksum) Sum() []byte {
	return c.h.Sum(nil)
}

func (c *Checksum) Hex() string {
	return hex.EncodeToString(c.Sum())
}
