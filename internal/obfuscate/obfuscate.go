// Package obfuscate implements the reversible transform applied to stored
// values when encryption is enabled.
//
// The key is derived from a low-entropy device fingerprint and the nonce is
// fixed, so the transform is deterministic. It keeps values from being read
// by casual inspection of the storage backend. It is not a security boundary:
// anyone who can compute the fingerprint can reverse it.
package obfuscate

import (
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"os/user"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const info = "shopsync/obfuscate/v1"

// sealed values start with this marker under the keystream; a mismatch
// after Open means the value was written under another device key.
var marker = [4]byte{'s', 'h', 0x5a, 0xa5}

var ErrKeyMismatch = errors.New("obfuscate: value was not sealed with this key")

type Key struct {
	key   [chacha20.KeySize]byte
	nonce [chacha20.NonceSize]byte
}

// NewKey derives a Key from fingerprint.
func NewKey(fingerprint string) (*Key, error) {
	r := hkdf.New(sha256.New, []byte(fingerprint), nil, []byte(info))
	k := &Key{}
	if _, err := io.ReadFull(r, k.key[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, k.nonce[:]); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Key) xor(dst, src []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(k.key[:], k.nonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(dst, src)
	return nil
}

// Seal returns the obfuscated form of plain.
func (k *Key) Seal(plain []byte) ([]byte, error) {
	buf := make([]byte, len(marker)+len(plain))
	copy(buf, marker[:])
	copy(buf[len(marker):], plain)
	if err := k.xor(buf, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Open reverses Seal.
func (k *Key) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < len(marker) {
		return nil, ErrKeyMismatch
	}
	buf := make([]byte, len(sealed))
	if err := k.xor(buf, sealed); err != nil {
		return nil, err
	}
	if [4]byte(buf[:4]) != marker {
		return nil, ErrKeyMismatch
	}
	return buf[len(marker):], nil
}

// DeviceFingerprint returns a best-effort identifier for the current host
// and account.
func DeviceFingerprint() string {
	parts := []string{runtime.GOOS, runtime.GOARCH}
	if h, err := os.Hostname(); err == nil {
		parts = append(parts, h)
	}
	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username, u.HomeDir)
	}
	return strings.Join(parts, "|")
}
