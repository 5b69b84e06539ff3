package models

import (
	"time"

	"github.com/alovak/secureframe/widget"
	widgetmodels "github.com/alovak/secureframe/widget/models"
)

// CreateSession is the body of POST /sessions. Empty fields fall back to the gateway defaults.
type CreateSession struct {
	Kind      string `json:"kind"`
	StoreKind string `json:"store_kind"`
	Payor     string `json:"payor"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type Session struct {
	widget.Snapshot
	Trigger  widget.Trigger `json:"trigger"`
	FrameURL string         `json:"frame_url"`
	Notice   *widget.Notice `json:"notice,omitempty"`
}

// Outcome is one settled handshake as kept in the ledger.
type Outcome struct {
	ID          string                   `json:"id"`
	SessionID   string                   `json:"session_id"`
	Outcome     widgetmodels.Outcome     `json:"outcome"`
	Kind        widgetmodels.Kind        `json:"kind"`
	Payor       string                   `json:"payor,omitempty"`
	Reference   string                   `json:"reference,omitempty"`
	Amount      int64                    `json:"amount"`
	Subject     string                   `json:"subject,omitempty"`
	Fingerprint string                   `json:"fingerprint,omitempty"`
	SummaryCode widgetmodels.SummaryCode `json:"summary_code,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
	TxnID       string                   `json:"txn_id,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

// NewOutcome flattens a widget result for storage.
func NewOutcome(id, sessionID string, res widgetmodels.Result, now time.Time) *Outcome {
	o := &Outcome{
		ID:          id,
		SessionID:   sessionID,
		Outcome:     res.Outcome,
		Kind:        res.Request.Kind,
		Payor:       res.Request.Payor,
		Reference:   res.Request.Reference,
		Amount:      res.Request.Amount,
		Subject:     res.Subject,
		Fingerprint: res.Fingerprint,
		Reason:      res.Reason(),
		CreatedAt:   now.UTC(),
	}
	if p := res.Payload; p != nil {
		o.SummaryCode = p.SummaryCode
		o.TxnID = string(p.TxnID)
	}
	return o
}
