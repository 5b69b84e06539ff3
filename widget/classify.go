package widget

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alovak/secureframe/internal/subject"
	"github.com/alovak/secureframe/widget/models"
)

// decode turns a protocol message into a classified result for req.
func decode(msg Message, req models.TransactionRequest, fingerprint, correlation string) models.Result {
	res := models.Result{
		Raw:         msg.Payload,
		Request:     req,
		Fingerprint: fingerprint,
		Correlation: correlation,
	}
	if msg.Encoding != EncodingBase64 {
		res.Outcome = models.OutcomeUnencoded
		return res
	}

	res.Outcome = models.OutcomeUnclassified
	p, raw, err := decodePayload(msg.Payload)
	if err != nil {
		res.DecodeError = err.Error()
		return res
	}
	res.Raw = raw
	res.Payload = &p
	res.Outcome = models.Classify(p.SummaryCode)
	res.Subject = subject.Correlate(req, p)
	return res
}

func decodePayload(payload json.RawMessage) (models.ResultPayload, json.RawMessage, error) {
	var enc string
	if err := json.Unmarshal(payload, &enc); err != nil {
		return models.ResultPayload{}, nil, fmt.Errorf("base64 payload must be a string: %w", err)
	}
	raw, err := decodeBase64(enc)
	if err != nil {
		return models.ResultPayload{}, nil, err
	}
	var p models.ResultPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.ResultPayload{}, nil, fmt.Errorf("decode result json: %w", err)
	}
	return p, raw, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("decode base64 payload: %w", firstErr)
}
