//go:build !softhsm

package main

import (
	"net/http"
	"time"

	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/gateway"
	"github.com/alovak/secureframe/internal/security"
	"github.com/alovak/secureframe/internal/signerclient"
)

// newSigner prefers the remote signer and falls back to the in-process HMAC signer.
func newSigner(logger *slog.Logger, cfg *gateway.Config) (security.Signer, func(), error) {
	if cfg.SignerURL != "" {
		logger.Info("using remote signer", slog.String("url", cfg.SignerURL))
		c := signerclient.New(cfg.SignerURL, &http.Client{Timeout: cfg.SignTimeout + time.Second})
		c.Token = cfg.SignerToken
		return c, func() {}, nil
	}

	key, err := security.KeyFromEnv()
	if err != nil {
		return nil, nil, err
	}
	s := security.NewHMACSigner(key)
	security.Wipe(key)
	logger.Info("using in-process hmac signer")
	return s, s.Close, nil
}
