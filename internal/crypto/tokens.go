package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"hash"
	"math/big"

	"golang.org/x/crypto/sha3"
)

const (
	shortIDLen     = 7
	shortIDAlpha   = "0123456789abcdefghijklmnopqrstuvwxyz"
	deleteTokenLen = 16
)

// ShortID returns a 7-character base36 identifier for public URLs.
func ShortID() string {
	b := make([]byte, shortIDLen)
	max := big.NewInt(int64(len(shortIDAlpha)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = shortIDAlpha[n.Int64()]
	}
	return string(b)
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// DeleteToken returns a fresh secret for tokenized delete links.
func DeleteToken() string {
	return RandomHex(deleteTokenLen)
}

// ChecksumWriter returns a SHA3-256 hasher; feed it with io.TeeReader while
// streaming an upload and read the digest with Sum.
func ChecksumWriter() *Checksum {
	return &Checksum{h: sha3.New256()}
}

type Checksum struct {
	h hash.Hash
}

func (c *Checksum) Write(p []byte) (int, error) {
	return c.h.Write(p)
}

// Sum returns the hex digest of everything written so far.
func (c *Checksum) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}
