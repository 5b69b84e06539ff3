// Package widget drives the SecureFrame handshake: it signs a transaction
// subject, hands the launch document to a frame host, and classifies the
// result message the payment page posts back.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/internal/form"
	"github.com/alovak/secureframe/internal/fptime"
	"github.com/alovak/secureframe/internal/security"
	"github.com/alovak/secureframe/internal/subject"
	"github.com/alovak/secureframe/widget/models"
)

type State int

const (
	Idle State = iota
	AwaitingFingerprint
	Ready
	AwaitingResult
	ErrorShown
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFingerprint:
		return "awaiting_fingerprint"
	case Ready:
		return "ready"
	case AwaitingResult:
		return "awaiting_result"
	case ErrorShown:
		return "error_shown"
	case TimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= TimedOut; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

var (
	ErrBusy           = errors.New("a handshake is already in progress")
	ErrSigning        = errors.New("signing failed")
	ErrNotReady       = errors.New("no fingerprint to render")
	ErrAborted        = errors.New("handshake closed while signing")
	ErrNothingToRetry = errors.New("nothing to retry")
	ErrResultTimeout  = errors.New("timed out waiting for the payment result")
)

const (
	declinedText = "The payment was declined."
	signingText  = "The payment could not be started."
	timeoutText  = "The payment page did not respond."
)

// Snapshot is a copy of the widget state.
type Snapshot struct {
	ID          string                    `json:"id"`
	State       State                     `json:"state"`
	Request     models.TransactionRequest `json:"request"`
	Subject     string                    `json:"subject,omitempty"`
	Fingerprint string                    `json:"fingerprint,omitempty"`
	Error       string                    `json:"error,omitempty"`
	OverlayOpen bool                      `json:"overlay_open"`
}

// Widget is one handshake instance. It is safe for concurrent use, but a
// second Open while a handshake is running is rejected with ErrBusy.
type Widget struct {
	id     string
	opts   Options
	signer security.Signer
	host   FrameHost
	cb     Callbacks
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	req     models.TransactionRequest
	subject string
	sig     security.Signature
	errText string
	overlay bool
	// attempt invalidates signer results and timers that belong to an earlier handshake.
	attempt uint64
	timer   *time.Timer
	release func()
}

func New(logger *slog.Logger, opts Options, signer security.Signer, host FrameHost, cb Callbacks) (*Widget, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if host == nil {
		host = nopHost{}
	}
	id := opts.NewID()
	return &Widget{
		id:     id,
		opts:   opts,
		signer: signer,
		host:   host,
		cb:     cb,
		logger: logger.With(slog.String("widget", id)),
	}, nil
}

// ID is the correlation id posted with the request and expected back on results.
func (w *Widget) ID() string { return w.id }

func (w *Widget) Trigger() Trigger {
	return Trigger{
		Label:     w.opts.ButtonLabel,
		Event:     w.opts.TriggerEvent,
		ClassName: w.opts.ButtonClassName,
		Style:     w.opts.ButtonStyle,
	}
}

// Mount starts listening on bus. A mounted widget ignores further Mount calls.
func (w *Widget) Mount(bus *Bus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.release != nil {
		return
	}
	w.release = bus.Subscribe(w.Receive)
}

// Unmount stops listening and closes any handshake in progress.
func (w *Widget) Unmount() {
	w.mu.Lock()
	release := w.release
	w.release = nil
	w.mu.Unlock()

	if release != nil {
		release()
	}
	w.Close()
}

func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Widget) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		ID:          w.id,
		State:       w.state,
		Request:     w.req,
		Subject:     w.subject,
		Fingerprint: w.sig.Fingerprint,
		Error:       w.errText,
		OverlayOpen: w.overlay,
	}
}

// Open signs a fresh request and shows the frame once the signer resolves.
func (w *Widget) Open(ctx context.Context) error {
	return w.handshake(ctx, false)
}

// Retry clears a decline or timeout and runs the handshake again inside the open overlay.
func (w *Widget) Retry(ctx context.Context) error {
	return w.handshake(ctx, true)
}

// Close drops the fingerprint and error and closes the overlay. A signer
// call still in flight is not cancelled, its result is discarded.
func (w *Widget) Close() {
	w.mu.Lock()
	w.stopTimerLocked()
	w.attempt++
	wasOpen := w.overlay
	prev := w.state
	w.overlay = false
	w.state = Idle
	w.sig = security.Signature{}
	w.errText = ""
	w.mu.Unlock()

	if prev != Idle {
		w.logger.Info("handshake closed", slog.String("from", prev.String()))
	}
	if wasOpen {
		w.host.Close()
	}
}

// Document renders the launch page from the current state.
func (w *Widget) Document() (form.Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sig.Fingerprint == "" {
		return form.Document{}, ErrNotReady
	}
	return w.documentLocked(), nil
}

func (w *Widget) handshake(ctx context.Context, retry bool) error {
	w.mu.Lock()
	switch {
	case !retry && w.state != Idle:
		st := w.state
		w.mu.Unlock()
		w.logger.Warn("open rejected", slog.String("state", st.String()))
		return fmt.Errorf("%w (state %s)", ErrBusy, st)
	case retry && w.state != ErrorShown && w.state != TimedOut:
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNothingToRetry, st)
	}

	w.stopTimerLocked()
	w.attempt++
	attempt := w.attempt
	req := w.newRequestLocked()
	subj, data := subject.Build(req)
	w.req = req
	w.subject = subj
	w.sig = security.Signature{}
	w.errText = ""
	w.state = AwaitingFingerprint
	w.mu.Unlock()

	w.logger.Info("requesting fingerprint",
		slog.String("kind", req.Kind.String()),
		slog.String("timestamp", req.Timestamp),
		slog.Bool("retry", retry),
	)

	sig, err := w.signer.Sign(ctx, subj, data)
	if err == nil {
		err = sig.Validate()
	}

	w.mu.Lock()
	if w.attempt != attempt || w.state != AwaitingFingerprint {
		w.mu.Unlock()
		w.logger.Info("discarding fingerprint for a closed handshake")
		return ErrAborted
	}
	if err != nil {
		var notice *Notice
		if w.overlay {
			w.state = ErrorShown
			w.errText = signingText
			n := w.noticeLocked()
			notice = &n
		} else {
			w.state = Idle
		}
		w.mu.Unlock()

		err = fmt.Errorf("%w: %w", ErrSigning, err)
		w.logger.Error("signing fingerprint", "err", err)
		if notice != nil {
			w.host.ShowError(*notice)
		}
		w.cb.fail(err)
		return err
	}

	w.sig = sig
	w.state = Ready
	doc := w.documentLocked()
	inPlace := w.overlay
	w.overlay = true
	w.mu.Unlock()

	if inPlace {
		w.host.Replace(doc)
	} else {
		w.host.Open(doc)
	}

	w.mu.Lock()
	if w.attempt == attempt && w.state == Ready {
		w.state = AwaitingResult
		if d := w.opts.ResultTimeout; d > 0 {
			w.timer = time.AfterFunc(d, func() { w.expire(attempt) })
		}
	}
	w.mu.Unlock()
	return nil
}

// Receive handles one message from the shared channel.
func (w *Widget) Receive(msg Message) {
	if msg.Source != SourceMarker {
		w.logger.Debug("ignoring message", slog.String("source", msg.Source))
		w.cb.ignored(msg, "source")
		return
	}
	if msg.Correlation != "" && msg.Correlation != w.id {
		w.logger.Debug("ignoring message for another widget", slog.String("correlation", msg.Correlation))
		w.cb.ignored(msg, "correlation")
		return
	}
	if msg.Correlation == "" && w.opts.StrictCorrelation {
		w.logger.Warn("ignoring uncorrelated message")
		w.cb.ignored(msg, "uncorrelated")
		return
	}

	w.mu.Lock()
	if w.state != Ready && w.state != AwaitingResult {
		st := w.state
		w.mu.Unlock()
		w.logger.Debug("ignoring message, no handshake waiting", slog.String("state", st.String()))
		w.cb.ignored(msg, "state")
		return
	}

	w.stopTimerLocked()
	res := decode(msg, w.req, w.sig.Fingerprint, w.id)

	if res.Outcome.Declined() {
		w.state = ErrorShown
		w.sig = security.Signature{}
		w.errText = res.Reason()
		if w.errText == "" {
			w.errText = declinedText
		}
		notice := w.noticeLocked()
		w.mu.Unlock()

		w.logger.Info("payment declined", slog.String("outcome", string(res.Outcome)), slog.String("reason", res.Reason()))
		w.host.ShowError(notice)
		w.cb.dispatch(res, w.opts.Unclassified)
		return
	}

	wasOpen := w.overlay
	w.resetLocked()
	w.mu.Unlock()

	w.logger.Info("payment result", slog.String("outcome", string(res.Outcome)))
	if res.DecodeError != "" {
		w.logger.Warn("undecodable result payload", slog.String("err", res.DecodeError))
	}
	if !w.cb.dispatch(res, w.opts.Unclassified) && res.Outcome == models.OutcomeUnclassified {
		w.logger.Warn("unclassified result dropped", slog.String("summary_code", summaryCode(res)))
	}
	if wasOpen {
		w.host.Close()
	}
}

func (w *Widget) expire(attempt uint64) {
	w.mu.Lock()
	if w.attempt != attempt || (w.state != Ready && w.state != AwaitingResult) {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	res := models.Result{
		Outcome:     models.OutcomeTimedOut,
		Request:     w.req,
		Subject:     w.subject,
		Fingerprint: w.sig.Fingerprint,
		Correlation: w.id,
	}
	w.state = TimedOut
	w.sig = security.Signature{}
	w.errText = timeoutText
	notice := w.noticeLocked()
	w.mu.Unlock()

	w.logger.Warn("payment result timed out", slog.Duration("after", w.opts.ResultTimeout))
	w.host.ShowError(notice)
	if w.cb.OnTimeout != nil {
		w.cb.OnTimeout(res)
	}
	w.cb.fail(ErrResultTimeout)
}

func (w *Widget) resetLocked() {
	w.state = Idle
	w.sig = security.Signature{}
	w.errText = ""
	w.overlay = false
}

func (w *Widget) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Widget) noticeLocked() Notice {
	return Notice{
		Reason:     w.errText,
		RetryLabel: w.opts.ErrorButtons[0],
		CloseLabel: w.opts.ErrorButtons[1],
	}
}

func (w *Widget) newRequestLocked() models.TransactionRequest {
	o := w.opts
	payor := o.Payor
	if payor == "" && o.Kind.IsStore() {
		payor = o.Reference
	}
	if payor == "" {
		payor = o.NewID()
	}
	reference := o.Reference
	if reference == "" {
		reference = o.NewID()
	}
	return models.TransactionRequest{
		Kind:      o.Kind,
		StoreKind: o.StoreKind,
		Payor:     payor,
		Reference: reference,
		Amount:    o.Amount,
		Timestamp: fptime.Format(o.Clock()),
	}
}

func (w *Widget) documentLocked() form.Document {
	o := w.opts
	r := w.req

	var f form.Fields
	f.Set("bill_name", "transact")
	f.Optional("title", o.Title)
	f.Set("primary_ref_name", o.ReferenceName)
	f.Set("primary_ref", r.Reference)
	f.Optional("page_header_image", o.Image)
	f.Optional("merchant_id", o.MerchantID)
	f.Set("txn_type", string(r.Kind))
	f.Set("amount", r.AmountString())
	if r.Kind.IsStore() {
		f.Set("store", "yes")
	}
	f.Set("display_receipt", "false")
	f.Set("confirmation", "false")
	if r.Kind.IsStore() {
		f.Set("store_type", string(r.StoreKind))
	}
	f.Set("payor", r.Payor)
	f.Set("fp_timestamp", r.Timestamp)
	f.Set("fingerprint", w.sig.Fingerprint)
	f.Optional("return_url", o.ReturnURL)
	f.Optional("card_types", strings.Join(o.CardTypes, "|"))
	f.Set("template", o.Template)
	f.Optional("page_style_url", o.StyleURL)
	f.Set("correlation_id", w.id)

	reserved := make(map[string]struct{}, len(f))
	for _, fl := range f {
		reserved[fl.Name] = struct{}{}
	}
	extra := make([]string, 0, len(w.sig.Fields))
	for name := range w.sig.Fields {
		if _, ok := reserved[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		f.Set(name, w.sig.Fields[name])
	}

	return form.Render(form.ActionURL(o.Live, o.TransactionURL), f)
}

func summaryCode(res models.Result) string {
	if res.Payload == nil {
		return ""
	}
	return string(res.Payload.SummaryCode)
}
