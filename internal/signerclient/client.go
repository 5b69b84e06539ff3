package signerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alovak/secureframe/internal/security"
)

// Client asks a remote signing service for fingerprints:
// POST {base}/sign {"subject": ..., "data": {...}} -> {"fingerprint": ..., ...extra}.
type Client struct {
	Base  string
	HTTP  *http.Client
	Token string
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

type signReq struct {
	Subject string            `json:"subject"`
	Data    map[string]string `json:"data,omitempty"`
}

func (c *Client) Sign(ctx context.Context, subject string, data map[string]string) (security.Signature, error) {
	b, err := json.Marshal(signReq{Subject: subject, Data: data})
	if err != nil {
		return security.Signature{}, fmt.Errorf("encode sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/sign", bytes.NewReader(b))
	if err != nil {
		return security.Signature{}, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return security.Signature{}, fmt.Errorf("sign: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return security.Signature{}, fmt.Errorf("sign status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	sig, err := decode(resp.Body)
	if err != nil {
		return security.Signature{}, err
	}
	if err := sig.Validate(); err != nil {
		return security.Signature{}, err
	}
	return sig, nil
}

// decode accepts either a bare JSON string or an object carrying "fingerprint".
// Other string members of the object become extra fields.
func decode(r io.Reader) (security.Signature, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return security.Signature{}, fmt.Errorf("decode sign response: %w", err)
	}

	var fp string
	if err := json.Unmarshal(raw, &fp); err == nil {
		return security.Signature{Fingerprint: fp}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return security.Signature{}, fmt.Errorf("decode sign response: %w", err)
	}
	sig := security.Signature{}
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if k == "fingerprint" {
			sig.Fingerprint = s
			continue
		}
		if sig.Fields == nil {
			sig.Fields = make(map[string]string)
		}
		sig.Fields[k] = s
	}
	return sig, nil
}

var _ security.Signer = (*Client)(nil)
