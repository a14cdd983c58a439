// Package cubecrypto implements the pure cryptographic primitives the cube
// subsystem builds on: SHA3-256 hashing, trailing-zero-bit counting for
// hashcash difficulty, Ed25519 signing/verification, and public-key
// fingerprinting. Nothing in this package performs I/O.
package cubecrypto

import (
	"crypto/ed25519"

	"golang.org/x/crypto/sha3"
)

// HashSize is the length in bytes of a cube content hash.
const HashSize = 32

// FingerprintSize is the length in bytes of a public-key fingerprint.
const FingerprintSize = 8

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// PublicKeySize is the length in bytes of an Ed25519 public key.
const PublicKeySize = ed25519.PublicKeySize

// PrivateKeySize is the length in bytes of an Ed25519 private key.
const PrivateKeySize = ed25519.PrivateKeySize

// Hash returns the SHA3-256 digest of data.
func Hash(data []byte) [HashSize]byte {
	return sha3.Sum256(data)
}

// TrailingZeroBits counts the number of trailing zero bits in digest,
// counted from the last byte backwards: a fully-zero trailing byte
// contributes 8, and the count stops at the first non-zero byte, adding the
// number of trailing zero bits within that byte.
//
// ctz(...00) == 8*n for n trailing zero bytes, and ctz(...01) == 0.
func TrailingZeroBits(digest []byte) uint32 {
	var count uint32
	for i := len(digest) - 1; i >= 0; i-- {
		b := digest[i]
		if b == 0 {
			count += 8
			continue
		}
		for b&1 == 0 {
			count++
			b >>= 1
		}
		break
	}
	return count
}

// Sign returns the Ed25519 signature of msg under sk.
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify reports whether sig is a valid Ed25519 signature of msg under pk.
func Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	if len(pk) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// Fingerprint returns the first FingerprintSize bytes of SHA3-256(pk).
func Fingerprint(pk ed25519.PublicKey) [FingerprintSize]byte {
	digest := Hash(pk)
	var fp [FingerprintSize]byte
	copy(fp[:], digest[:FingerprintSize])
	return fp
}

// GenerateKey returns a fresh Ed25519 key pair for minting MUCs/IPCs.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}
