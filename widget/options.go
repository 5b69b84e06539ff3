package widget

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alovak/secureframe/widget/models"
)

// UnclassifiedPolicy decides what happens to results with an unknown summary code.
type UnclassifiedPolicy int

const (
	// UnclassifiedGeneric hands the result to OnPayment when it is registered.
	UnclassifiedGeneric UnclassifiedPolicy = iota
	// UnclassifiedDrop never fires a callback for unknown summary codes.
	UnclassifiedDrop
)

// Options configures one widget instance.
type Options struct {
	// Live selects the production endpoint; TransactionURL overrides both.
	Live           bool
	TransactionURL string

	MerchantID    string
	Title         string
	Image         string
	ReferenceName string
	CardTypes     []string
	Template      string
	ReturnURL     string
	StyleURL      string

	Kind      models.Kind
	StoreKind models.StoreKind
	Payor     string
	Reference string
	// Amount in minor units, DefaultAmount when zero.
	Amount int64

	// ErrorButtons are the retry and close labels of the decline notice.
	ErrorButtons    [2]string
	TriggerEvent    string
	ButtonLabel     string
	ButtonClassName string
	ButtonStyle     string

	// ResultTimeout bounds the wait for a result message. Zero waits forever.
	ResultTimeout time.Duration
	// StrictCorrelation drops result messages that carry no correlation id.
	StrictCorrelation bool
	Unclassified      UnclassifiedPolicy

	// Clock and NewID are replaceable for tests.
	Clock func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = models.KindStore
	}
	if o.StoreKind == "" {
		o.StoreKind = models.StoreKindPayor
	}
	if o.Amount == 0 {
		o.Amount = models.DefaultAmount
	}
	if o.ReferenceName == "" {
		o.ReferenceName = "Customer"
	}
	if o.Template == "" {
		o.Template = "responsive"
	}
	if o.ErrorButtons[0] == "" {
		o.ErrorButtons[0] = "Retry"
	}
	if o.ErrorButtons[1] == "" {
		o.ErrorButtons[1] = "Close"
	}
	if o.TriggerEvent == "" {
		o.TriggerEvent = "click"
	}
	if o.ButtonLabel == "" {
		o.ButtonLabel = "Set Card"
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// Validate checks the options after defaults were applied.
func (o Options) Validate() error {
	if o.Amount < 0 {
		return fmt.Errorf("amount must be positive, got %d", o.Amount)
	}
	if _, ok := models.ParseKind(string(o.Kind)); !ok && o.Kind != "" {
		return fmt.Errorf("unsupported transaction kind %q", string(o.Kind))
	}
	for _, ct := range o.CardTypes {
		if strings.Contains(ct, "|") {
			return fmt.Errorf("card type %q must not contain |", ct)
		}
	}
	return nil
}

// Trigger describes the element that starts a handshake. Rendering it is up to the embedder.
type Trigger struct {
	Label     string `json:"label"`
	Event     string `json:"event"`
	ClassName string `json:"class_name,omitempty"`
	Style     string `json:"style,omitempty"`
}
