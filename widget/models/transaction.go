package models

import "strconv"

// Kind is the SecureFrame txn_type.
type Kind string

const (
	KindPayment Kind = "0"
	KindPreAuth Kind = "1"
	KindStore   Kind = "8"
)

// IsStore reports whether the transaction only stores card details against a payor.
func (k Kind) IsStore() bool { return k == KindStore }

func (k Kind) String() string {
	switch k {
	case KindPayment:
		return "PAYMENT"
	case KindPreAuth:
		return "PRE_AUTH"
	case KindStore:
		return "STORE"
	}
	return string(k)
}

// ParseKind accepts the enum name or the wire value.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "PAYMENT", string(KindPayment):
		return KindPayment, true
	case "PRE_AUTH", string(KindPreAuth):
		return KindPreAuth, true
	case "STORE", string(KindStore):
		return KindStore, true
	}
	return "", false
}

// StoreKind is the SecureFrame store_type.
type StoreKind string

const StoreKindPayor StoreKind = "payor"

// DefaultAmount is used when no amount is configured, in minor units.
const DefaultAmount int64 = 100

type TransactionRequest struct {
	Kind      Kind      `json:"kind"`
	StoreKind StoreKind `json:"store_kind"`
	Payor     string    `json:"payor"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	// Timestamp is the UTC fingerprint timestamp (YYYYMMDDHHMMSS).
	Timestamp string `json:"timestamp"`
}

// AmountString renders the amount in minor units.
func (r TransactionRequest) AmountString() string {
	return strconv.FormatInt(r.Amount, 10)
}
