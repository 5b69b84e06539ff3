// Package subject derives the canonical string that is signed for a transaction
// and later used to correlate the asynchronous result.
package subject

import (
	"strings"

	"github.com/alovak/secureframe/widget/models"
)

const sep = "|"

// Build returns the subject and the request data for req.
// STORE: kind|storeKind|payor|timestamp, payor defaulting to the reference.
// Anything else: kind|reference|amount|timestamp.
func Build(req models.TransactionRequest) (string, map[string]string) {
	if req.Kind.IsStore() {
		payor := req.Payor
		if payor == "" {
			payor = req.Reference
		}
		subject := strings.Join([]string{string(req.Kind), string(req.StoreKind), payor, req.Timestamp}, sep)
		return subject, map[string]string{
			"txn_type":     string(req.Kind),
			"store_type":   string(req.StoreKind),
			"payor":        payor,
			"fp_timestamp": req.Timestamp,
		}
	}

	amount := req.AmountString()
	subject := strings.Join([]string{string(req.Kind), req.Reference, amount, req.Timestamp}, sep)
	return subject, map[string]string{
		"txn_type":     string(req.Kind),
		"primary_ref":  req.Reference,
		"amount":       amount,
		"fp_timestamp": req.Timestamp,
	}
}

// Correlate rebuilds the subject for a decoded result. Approved STORE results
// correlate on the returned payor, everything else on the returned reference
// amount and timestamp. Only the approved STORE form reuses the signed timestamp.
func Correlate(req models.TransactionRequest, p models.ResultPayload) string {
	if req.Kind.IsStore() && models.Classify(p.SummaryCode) == models.OutcomeApproved {
		s, _ := Build(models.TransactionRequest{
			Kind:      req.Kind,
			StoreKind: req.StoreKind,
			Payor:     string(p.Payor),
			Timestamp: req.Timestamp,
		})
		return s
	}
	return strings.Join([]string{string(req.Kind), string(p.RefID), string(p.Amount), string(p.Timestamp)}, sep)
}
