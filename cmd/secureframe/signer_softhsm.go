//go:build softhsm

package main

import (
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/gateway"
	"github.com/alovak/secureframe/internal/security"
	"github.com/alovak/secureframe/internal/security/hsm"
)

// newSigner computes fingerprints inside the HSM; the transaction password never leaves it.
func newSigner(logger *slog.Logger, cfg *gateway.Config) (security.Signer, func(), error) {
	if cfg.HSMLibrary == "" {
		return nil, nil, fmt.Errorf("HSM_LIBRARY is required for the softhsm build")
	}
	s := hsm.NewSigner(cfg.HSMLibrary, cfg.HSMSlot, cfg.HSMPin, cfg.HSMKeyLabel)
	if err := s.Open(); err != nil {
		return nil, nil, fmt.Errorf("opening hsm: %w", err)
	}
	logger.Info("using pkcs11 signer", slog.String("key_label", cfg.HSMKeyLabel), slog.Uint64("slot", uint64(cfg.HSMSlot)))
	return s, s.Close, nil
}
