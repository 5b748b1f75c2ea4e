package archive

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key is the public identity of an archive.
type Key [32]byte

// NewKey returns a random key.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a hex key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("parse key: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Discovery derives the key peers use to find each other without revealing
// the archive key itself.
func (k Key) Discovery() Key {
	mac := hmac.New(sha256.New, []byte("hyperfeed"))
	mac.Write(k[:])
	var d Key
	copy(d[:], mac.Sum(nil))
	return d
}
