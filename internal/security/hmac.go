package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

var errKeyMissing = errors.New("FINGERPRINT_KEY not set; provide a transaction password for the HMAC signer")

// KeyFromEnv reads the merchant transaction password used as the HMAC key.
func KeyFromEnv() ([]byte, error) {
	key := []byte(os.Getenv("FINGERPRINT_KEY"))
	if len(key) == 0 {
		return nil, errKeyMissing
	}
	return key, nil
}

// HMACSigner computes hex(HMAC-SHA256(key, subject)). It is the in-process
// signer used for development and for deployments that hold the merchant
// transaction password themselves.
type HMACSigner struct {
	key []byte
}

func NewHMACSigner(key []byte) *HMACSigner {
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k}
}

func (s *HMACSigner) Sign(ctx context.Context, subject string, _ map[string]string) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	if len(s.key) == 0 {
		return Signature{}, fmt.Errorf("hmac signer key is required")
	}
	return Signature{Fingerprint: HMACFingerprint(s.key, subject)}, nil
}

// Close wipes the key.
func (s *HMACSigner) Close() {
	Wipe(s.key)
	s.key = nil
}

// HMACFingerprint is the raw fingerprint computation.
func HMACFingerprint(key []byte, subject string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(subject))
	return hex.EncodeToString(h.Sum(nil))
}

var _ Signer = (*HMACSigner)(nil)
