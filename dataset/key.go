// File: dataset/key.go
// Author: momentics <momentics@gmail.com>

package dataset

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-db/api"
)

// MaxKeySize is the largest key in bytes.
const MaxKeySize = 32

// Key is an opaque byte sequence of at most MaxKeySize bytes with an
// explicit length. Keys are comparable and usable as map keys; two keys are
// equal iff their lengths and bytes match.
type Key struct {
	n uint8
	b [MaxKeySize]byte
}

// KeyFromBytes copies b into a key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) > MaxKeySize {
		return k, errors.Wrapf(api.ErrKeyTooLong, "%d bytes", len(b))
	}
	k.n = uint8(len(b))
	copy(k.b[:], b)
	return k, nil
}

// MustKey is KeyFromBytes for keys known to fit.
func MustKey(b []byte) Key {
	k, err := KeyFromBytes(b)
	if err != nil {
		panic(err)
	}
	return k
}

// KeyFromString uses the bytes of s.
func KeyFromString(s string) (Key, error) {
	return KeyFromBytes([]byte(s))
}

// KeyFromUint32 encodes v big-endian in four bytes.
func KeyFromUint32(v uint32) Key {
	var k Key
	k.n = 4
	binary.BigEndian.PutUint32(k.b[:], v)
	return k
}

// KeyFromUint64 encodes v big-endian in eight bytes.
func KeyFromUint64(v uint64) Key {
	var k Key
	k.n = 8
	binary.BigEndian.PutUint64(k.b[:], v)
	return k
}

// Len returns the key length in bytes.
func (k Key) Len() int { return int(k.n) }

// Bytes returns a copy of the key bytes.
func (k Key) Bytes() []byte {
	return append([]byte(nil), k.b[:k.n]...)
}

// Uint32 decodes a four byte key; ok is false for other lengths.
func (k Key) Uint32() (uint32, bool) {
	if k.n != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(k.b[:4]), true
}

func (k Key) String() string {
	return hex.EncodeToString(k.b[:k.n])
}
