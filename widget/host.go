package widget

import (
	"github.com/alovak/secureframe/internal/form"
	"github.com/alovak/secureframe/widget/models"
)

// Notice is the in-place error shown instead of the frame, with retry and close affordances.
type Notice struct {
	Reason     string `json:"reason"`
	RetryLabel string `json:"retry_label"`
	CloseLabel string `json:"close_label"`
}

// FrameHost is the overlay or inline container that displays the frame.
// Its methods are never called while the widget holds its lock, so a host may
// call back into the widget.
type FrameHost interface {
	// Open shows the overlay with doc loaded into the frame.
	Open(doc form.Document)
	// Replace swaps the overlay content for doc without closing it.
	Replace(doc form.Document)
	// ShowError replaces the overlay content with n.
	ShowError(n Notice)
	Close()
}

type nopHost struct{}

func (nopHost) Open(form.Document)    {}
func (nopHost) Replace(form.Document) {}
func (nopHost) ShowError(Notice)      {}
func (nopHost) Close()                {}

// Callbacks are the outcome hooks of the embedding application. All are optional.
type Callbacks struct {
	OnApproved  func(models.Result)
	OnDeclined  func(reason string, res models.Result)
	OnCancelled func(models.Result)
	// OnPayment is the fallback for outcomes without a specific callback,
	// unencoded messages and unclassified results.
	OnPayment func(models.Result)
	OnTimeout func(models.Result)
	OnError   func(error)
	// OnIgnored reports messages the widget discarded and why.
	OnIgnored func(msg Message, reason string)
}

// dispatch fires the callback for res and reports whether one ran.
func (c Callbacks) dispatch(res models.Result, policy UnclassifiedPolicy) bool {
	generic := func() bool {
		if c.OnPayment == nil {
			return false
		}
		c.OnPayment(res)
		return true
	}

	switch res.Outcome {
	case models.OutcomeApproved:
		if c.OnApproved != nil {
			c.OnApproved(res)
			return true
		}
		return generic()
	case models.OutcomeDeclinedBank, models.OutcomeDeclinedOther:
		if c.OnDeclined != nil {
			c.OnDeclined(res.Reason(), res)
			return true
		}
		return generic()
	case models.OutcomeCancelled:
		if c.OnCancelled != nil {
			c.OnCancelled(res)
			return true
		}
		return generic()
	case models.OutcomeUnencoded:
		return generic()
	}

	if policy == UnclassifiedDrop {
		return false
	}
	return generic()
}

func (c Callbacks) ignored(msg Message, reason string) {
	if c.OnIgnored != nil {
		c.OnIgnored(msg, reason)
	}
}

func (c Callbacks) fail(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
