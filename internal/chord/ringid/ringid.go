// Package ringid implements identifier arithmetic for the Chord ring: hashing
// keys and addresses into an m-bit modular space and testing membership in
// clockwise arcs of that space.
package ringid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// DefaultBitLen is the ring's default identifier width in bits.
const DefaultBitLen = 32

// Modulus returns 2^bitlen, the size of the identifier space.
//
// The original prototype this package replaces used "2 << id_bitlen" in
// some range checks and "1 << id_bitlen" in others; this is the latter,
// adopted everywhere, so ids live in [0, 2^bitlen).
func Modulus(bitlen uint) uint64 {
	return uint64(1) << bitlen
}

// HashID hashes key into the ring's identifier space: SHA-256(key)
// interpreted big-endian, reduced mod 2^bitlen.
func HashID(key string, bitlen uint) uint64 {
	sum := sha256.Sum256([]byte(key))
	return reduceBigEndian(sum[:], bitlen)
}

// HashAddr is HashID applied to the canonical "ip:port" form used to derive
// a node's identifier.
func HashAddr(ip string, port int, bitlen uint) uint64 {
	return HashID(addrString(ip, port), bitlen)
}

// BlobID returns the lowercase hex SHA-256 digest of data, used to name and
// route opaque blobs (spec's "blob identifiers are lowercase hex of
// SHA-256").
func BlobID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobHomeID reduces a hex blob identifier into the ring's identifier space
// by interpreting it as a base-16 integer mod 2^bitlen:
// home(b) = find_successor(int(b, 16) mod 2^m).
func BlobHomeID(blobID string, bitlen uint) (uint64, error) {
	sum, err := hex.DecodeString(blobID)
	if err != nil {
		return 0, err
	}
	return reduceBigEndian(sum, bitlen), nil
}

// reduceBigEndian interprets digest as a big-endian unsigned integer and
// reduces it mod 2^bitlen, without requiring the full integer to fit in a
// machine word: it folds the digest 8 bytes at a time.
func reduceBigEndian(digest []byte, bitlen uint) uint64 {
	mod := Modulus(bitlen)

	var acc uint64
	for len(digest) > 0 {
		n := len(digest)
		if n > 8 {
			n = 8
		}
		chunk := make([]byte, 8)
		copy(chunk[8-n:], digest[:n])
		word := binary.BigEndian.Uint64(chunk)

		// acc = (acc * 2^(8n) + word) mod 2^bitlen; since mod is itself a
		// power of two and bitlen <= 64, multiplying by a power of two mod
		// 2^bitlen is just a masked shift.
		shift := uint(n) * 8
		if shift >= 64 {
			acc = 0
		} else {
			acc <<= shift
		}
		acc += word
		digest = digest[n:]
	}

	if bitlen >= 64 {
		return acc
	}
	return acc & (mod - 1)
}

// IsInArc reports whether x lies on the clockwise arc from a to b
// (inclusive of both endpoints) in an identifier space of 2^bitlen points.
//
// When a <= b this reduces to a <= x <= b; when a > b the arc wraps through
// 0, so it is x >= a || x <= b. Callers wanting a half-open (a, b] interval
// should pass (a+1) mod 2^bitlen as the lower bound.
func IsInArc(x, a, b uint64, bitlen uint) bool {
	_ = bitlen // kept for symmetry with HashID/Modulus call sites; arc math is modulus-free once a,b,x are already reduced
	if a <= b {
		return a <= x && x <= b
	}
	return x >= a || x <= b
}

// addrString is the canonical "ip:port" form hashed to derive a node id.
func addrString(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}
