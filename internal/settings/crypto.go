package settings

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeyFromHex parses a 32-byte secretbox key from its hex form.
func KeyFromHex(s string) (*[32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("settings key: %w", err)
	}
	if len(raw) != 32 {
		return nil, errors.New("settings key must be 32 bytes")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// seal encrypts a secret for storage. The nonce is prepended to the box
// and the whole blob is base64 encoded.
func seal(key *[32]byte, plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(box), nil
}

// open decrypts a blob produced by seal.
func open(key *[32]byte, blob string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("secret blob: %w", err)
	}
	if len(box) < 24 {
		return "", errors.New("secret blob truncated")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, key)
	if !ok {
		return "", errors.New("secret blob failed to decrypt")
	}
	return string(plaintext), nil
}
