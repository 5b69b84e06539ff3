package models

import (
	"bytes"
	"encoding/json"
)

// SummaryCode is the outcome classifier returned by the remote payment page.
type SummaryCode string

const (
	SummaryApproved      SummaryCode = "1"
	SummaryDeclinedBank  SummaryCode = "2"
	SummaryDeclinedOther SummaryCode = "3"
	SummaryCancelled     SummaryCode = "4"
)

type Outcome string

const (
	OutcomeApproved      Outcome = "approved"
	OutcomeDeclinedBank  Outcome = "declined_bank"
	OutcomeDeclinedOther Outcome = "declined_other"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeUnclassified  Outcome = "unclassified"
	// OutcomeUnencoded marks a message whose payload was passed through as is.
	OutcomeUnencoded Outcome = "unencoded"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Declined reports whether the outcome is either kind of decline.
func (o Outcome) Declined() bool {
	return o == OutcomeDeclinedBank || o == OutcomeDeclinedOther
}

// Classify maps a summary code to an outcome.
func Classify(code SummaryCode) Outcome {
	switch code {
	case SummaryApproved:
		return OutcomeApproved
	case SummaryDeclinedBank:
		return OutcomeDeclinedBank
	case SummaryDeclinedOther:
		return OutcomeDeclinedOther
	case SummaryCancelled:
		return OutcomeCancelled
	}
	return OutcomeUnclassified
}

// Text is a JSON string that also accepts bare numbers.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// ResultPayload is the decoded body of a base64 result message.
type ResultPayload struct {
	SummaryCode SummaryCode `json:"summarycode"`
	ResText     Text        `json:"restext"`
	ResCode     Text        `json:"rescode"`
	StResCode   Text        `json:"strescode"`
	RefID       Text        `json:"refid"`
	Amount      Text        `json:"amount"`
	Timestamp   Text        `json:"timestamp"`
	Payor       Text        `json:"payor"`
	TxnID       Text        `json:"txnid"`
	PAN         Text        `json:"pan"`
	ExpiryDate  Text        `json:"expirydate"`
	CardType    Text        `json:"cardtype"`
}

func (p *ResultPayload) UnmarshalJSON(b []byte) error {
	type plain ResultPayload
	var aux struct {
		plain
		SummaryCode Text `json:"summarycode"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = ResultPayload(aux.plain)
	p.SummaryCode = SummaryCode(aux.SummaryCode)
	return nil
}

// Result is what outcome callbacks receive.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// Payload is nil for unencoded messages and undecodable payloads.
	Payload *ResultPayload `json:"payload,omitempty"`
	// Raw is the payload exactly as it arrived.
	Raw json.RawMessage `json:"raw,omitempty"`
	// Subject correlates the result with the signed request.
	Subject     string             `json:"subject,omitempty"`
	Request     TransactionRequest `json:"request"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Correlation string             `json:"correlation,omitempty"`
	// DecodeError is set when a base64 payload could not be decoded.
	DecodeError string `json:"decode_error,omitempty"`
}

// Reason is the decline or response text supplied by the remote page.
func (r Result) Reason() string {
	if r.Payload == nil {
		return ""
	}
	return string(r.Payload.ResText)
}

var bankApprovedCodes = map[string]struct{}{"00": {}, "08": {}, "11": {}}

// BankApproved reports whether the bank response code is one of the approving codes.
func (r Result) BankApproved() bool {
	if r.Payload == nil {
		return false
	}
	_, ok := bankApprovedCodes[string(r.Payload.StResCode)]
	return ok
}
