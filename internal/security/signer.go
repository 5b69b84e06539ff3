package security

import (
	"context"
	"errors"
)

// ErrEmptyFingerprint is returned when a signer resolves without a fingerprint.
var ErrEmptyFingerprint = errors.New("signer returned an empty fingerprint")

// Signature is what a signer resolves to: the fingerprint plus any extra
// fields the signer wants posted alongside it.
type Signature struct {
	Fingerprint string            `json:"fingerprint"`
	Fields      map[string]string `json:"-"`
}

// Signer produces a fingerprint for a transaction subject. Implementations
// live outside the widget; data carries the request fields keyed by form name.
type Signer interface {
	Sign(ctx context.Context, subject string, data map[string]string) (Signature, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, subject string, data map[string]string) (Signature, error)

func (f SignerFunc) Sign(ctx context.Context, subject string, data map[string]string) (Signature, error) {
	return f(ctx, subject, data)
}

// FingerprintFunc adapts a function that only returns the fingerprint.
func FingerprintFunc(f func(ctx context.Context, subject string) (string, error)) Signer {
	return SignerFunc(func(ctx context.Context, subject string, _ map[string]string) (Signature, error) {
		fp, err := f(ctx, subject)
		if err != nil {
			return Signature{}, err
		}
		return Signature{Fingerprint: fp}, nil
	})
}

// Validate rejects signatures that cannot be posted.
func (s Signature) Validate() error {
	if s.Fingerprint == "" {
		return ErrEmptyFingerprint
	}
	return nil
}

// Wipe zeroes key material. Go does not guarantee the bytes are gone from memory.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
