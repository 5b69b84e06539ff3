package widget_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/internal/form"
	"github.com/alovak/secureframe/internal/security"
	"github.com/alovak/secureframe/widget"
	"github.com/alovak/secureframe/widget/models"
)

var fixedNow = time.Date(2030, time.February, 3, 4, 56, 7, 0, time.UTC)

type recordingHost struct {
	mu      sync.Mutex
	calls   []string
	docs    []form.Document
	notices []widget.Notice
}

func (h *recordingHost) Open(doc form.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "open")
	h.docs = append(h.docs, doc)
}

func (h *recordingHost) Replace(doc form.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "replace")
	h.docs = append(h.docs, doc)
}

func (h *recordingHost) ShowError(n widget.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "error")
	h.notices = append(h.notices, n)
}

func (h *recordingHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "close")
}

func (h *recordingHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *recordingHost) LastDoc() form.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.docs[len(h.docs)-1]
}

type fakeSigner struct {
	mu       sync.Mutex
	subjects []string
	fps      []string
	err      error
}

func (s *fakeSigner) Sign(_ context.Context, subject string, _ map[string]string) (security.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	if s.err != nil {
		return security.Signature{}, s.err
	}
	fp := "sig1"
	if n := len(s.subjects); n > 1 {
		fp = fmt.Sprintf("sig%d", n)
	}
	s.fps = append(s.fps, fp)
	return security.Signature{Fingerprint: fp}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(opts widget.Options) widget.Options {
	n := 0
	opts.Clock = func() time.Time { return fixedNow }
	opts.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return opts
}

func newWidget(t *testing.T, opts widget.Options, signer security.Signer, cb widget.Callbacks) (*widget.Widget, *recordingHost, *widget.Bus) {
	t.Helper()
	host := &recordingHost{}
	w, err := widget.New(testLogger(), testOptions(opts), signer, host, cb)
	require.NoError(t, err)
	bus := widget.NewBus()
	w.Mount(bus)
	t.Cleanup(w.Unmount)
	return w, host, bus
}

func resultMessage(t *testing.T, payload map[string]any) widget.Message {
	t.Helper()
	msg, err := widget.EncodeResult(payload)
	require.NoError(t, err)
	return msg
}

func TestOpen_StoreScenario(t *testing.T) {
	signer := &fakeSigner{}
	w, host, _ := newWidget(t, widget.Options{Kind: models.KindStore, Payor: "abc"}, signer, widget.Callbacks{})

	require.NoError(t, w.Open(context.Background()))

	require.Equal(t, []string{"8|payor|abc|20300203045607"}, signer.subjects)
	require.Equal(t, []string{"open"}, host.Calls())
	require.Equal(t, widget.AwaitingResult, w.State())

	doc := host.LastDoc()
	require.Equal(t, form.TestURL, doc.Action)
	require.Contains(t, doc.HTML, `<input type="hidden" name="payor" value="abc" />`)
	require.Contains(t, doc.HTML, `<input type="hidden" name="fingerprint" value="sig1" />`)
	require.Contains(t, doc.HTML, `<input type="hidden" name="store" value="yes" />`)
	require.Contains(t, doc.HTML, `<input type="hidden" name="fp_timestamp" value="20300203045607" />`)
	require.Contains(t, doc.HTML, `<input type="hidden" name="correlation_id" value="`+w.ID()+`" />`)
	require.Contains(t, doc.HTML, `action="`+form.TestURL+`"`)

	snap := w.Snapshot()
	require.Equal(t, "sig1", snap.Fingerprint)
	require.Equal(t, "abc", snap.Request.Payor)
	require.Equal(t, "20300203045607", snap.Request.Timestamp)
	require.True(t, snap.OverlayOpen)
}

func TestOpen_LiveAndOverride(t *testing.T) {
	w, host, _ := newWidget(t, widget.Options{Live: true}, &fakeSigner{}, widget.Callbacks{})
	require.NoError(t, w.Open(context.Background()))
	require.Equal(t, form.LiveURL, host.LastDoc().Action)

	w2, host2, _ := newWidget(t, widget.Options{Live: true, TransactionURL: "https://pay.example.test/"}, &fakeSigner{}, widget.Callbacks{})
	require.NoError(t, w2.Open(context.Background()))
	require.Equal(t, "https://pay.example.test/", host2.LastDoc().Action)
}

func TestOpen_GeneratesMissingIdentifiers(t *testing.T) {
	signer := &fakeSigner{}
	w, _, _ := newWidget(t, widget.Options{Kind: models.KindPreAuth, Amount: 2599}, signer, widget.Callbacks{})
	require.NoError(t, w.Open(context.Background()))

	snap := w.Snapshot()
	require.NotEmpty(t, snap.Request.Payor)
	require.NotEmpty(t, snap.Request.Reference)
	require.Equal(t, "1|"+snap.Request.Reference+"|2599|20300203045607", signer.subjects[0])
}

func TestOpen_StorePayorFallsBackToReference(t *testing.T) {
	signer := &fakeSigner{}
	w, _, _ := newWidget(t, widget.Options{Kind: models.KindStore, Reference: "cust-9"}, signer, widget.Callbacks{})
	require.NoError(t, w.Open(context.Background()))

	require.Equal(t, "8|payor|cust-9|20300203045607", signer.subjects[0])
	require.Equal(t, "cust-9", w.Snapshot().Request.Payor)
}

func TestOpen_EscapesUserFields(t *testing.T) {
	opts := widget.Options{
		Title:     `Shop "<b>"`,
		Image:     `https://img.test/a.png?x=1&y="2"`,
		Reference: `"><script>alert(1)</script>`,
		CardTypes: []string{"visa", "mastercard"},
	}
	w, host, _ := newWidget(t, opts, &fakeSigner{}, widget.Callbacks{})
	require.NoError(t, w.Open(context.Background()))

	html := host.LastDoc().HTML
	require.NotContains(t, html, "<script>")
	require.NotContains(t, html, "<b>")
	require.Contains(t, html, `name="title" value="Shop &quot;&lt;b&gt;&quot;"`)
	require.Contains(t, html, `name="page_header_image" value="https://img.test/a.png?x=1&amp;y=&quot;2&quot;"`)
	require.Contains(t, html, `name="card_types" value="visa|mastercard"`)
}

func TestOpen_SignerExtraFields(t *testing.T) {
	signer := security.SignerFunc(func(context.Context, string, map[string]string) (security.Signature, error) {
		return security.Signature{Fingerprint: "fp", Fields: map[string]string{
			"merchant_id": "OVERRIDE",
			"z_extra":     "z",
			"a_extra":     "a",
		}}, nil
	})
	w, host, _ := newWidget(t, widget.Options{MerchantID: "ABC0001"}, signer, widget.Callbacks{})
	require.NoError(t, w.Open(context.Background()))

	doc := host.LastDoc()
	v, _ := doc.Fields.Get("merchant_id")
	require.Equal(t, "ABC0001", v)
	require.Less(t, strings.Index(doc.HTML, `name="a_extra"`), strings.Index(doc.HTML, `name="z_extra"`))
	require.NotContains(t, doc.HTML, "OVERRIDE")
}

func TestOpen_SigningFailure(t *testing.T) {
	boom := errors.New("signer offline")
	signer := &fakeSigner{err: boom}
	var gotErr error
	w, host, _ := newWidget(t, widget.Options{}, signer, widget.Callbacks{
		OnError: func(err error) { gotErr = err },
	})

	err := w.Open(context.Background())
	require.ErrorIs(t, err, widget.ErrSigning)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, gotErr, widget.ErrSigning)
	require.Empty(t, host.Calls())
	require.Equal(t, widget.Idle, w.State())

	_, err = w.Document()
	require.ErrorIs(t, err, widget.ErrNotReady)

	signer.err = nil
	require.NoError(t, w.Open(context.Background()))
	require.Equal(t, []string{"open"}, host.Calls())
}

func TestOpen_EmptyFingerprintIsAFailure(t *testing.T) {
	signer := security.FingerprintFunc(func(context.Context, string) (string, error) { return "", nil })
	w, host, _ := newWidget(t, widget.Options{}, signer, widget.Callbacks{})

	err := w.Open(context.Background())
	require.ErrorIs(t, err, widget.ErrSigning)
	require.ErrorIs(t, err, security.ErrEmptyFingerprint)
	require.Empty(t, host.Calls())
}

func TestOpen_RejectsSecondOpen(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	signer := security.FingerprintFunc(func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "sig1", nil
	})
	w, _, _ := newWidget(t, widget.Options{}, signer, widget.Callbacks{})

	done := make(chan error, 1)
	go func() { done <- w.Open(context.Background()) }()
	<-started

	require.Equal(t, widget.AwaitingFingerprint, w.State())
	require.ErrorIs(t, w.Open(context.Background()), widget.ErrBusy)

	close(release)
	require.NoError(t, <-done)
	require.ErrorIs(t, w.Open(context.Background()), widget.ErrBusy)
}

func TestClose_WhileSigningDiscardsFingerprint(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	signer := security.FingerprintFunc(func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "late", nil
	})
	w, host, _ := newWidget(t, widget.Options{}, signer, widget.Callbacks{})

	done := make(chan error, 1)
	go func() { done <- w.Open(context.Background()) }()
	<-started
	w.Close()
	close(release)

	require.ErrorIs(t, <-done, widget.ErrAborted)
	require.Empty(t, host.Calls())
	require.Equal(t, widget.Idle, w.State())
	require.Empty(t, w.Snapshot().Fingerprint)
}

func TestClose_Idempotent(t *testing.T) {
	w, host, bus := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{})
	require.NoError(t, w.Open(context.Background()))
	bus.Post(resultMessage(t, map[string]any{"summarycode": "2", "restext": "no"}))
	require.Equal(t, widget.ErrorShown, w.State())

	w.Close()
	once := w.Snapshot()
	w.Close()
	twice := w.Snapshot()

	require.Equal(t, once, twice)
	require.Equal(t, widget.Idle, twice.State)
	require.Empty(t, twice.Fingerprint)
	require.Empty(t, twice.Error)
	require.Equal(t, []string{"open", "error", "close"}, host.Calls())
}

func TestReceive_ClassificationTable(t *testing.T) {
	cases := []struct {
		code    string
		fired   string
		outcome models.Outcome
	}{
		{"1", "approved", models.OutcomeApproved},
		{"2", "declined", models.OutcomeDeclinedBank},
		{"3", "declined", models.OutcomeDeclinedOther},
		{"4", "cancelled", models.OutcomeCancelled},
		{"9", "payment", models.OutcomeUnclassified},
	}

	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			var fired []string
			var got models.Result
			cb := widget.Callbacks{
				OnApproved:  func(r models.Result) { fired = append(fired, "approved"); got = r },
				OnDeclined:  func(_ string, r models.Result) { fired = append(fired, "declined"); got = r },
				OnCancelled: func(r models.Result) { fired = append(fired, "cancelled"); got = r },
				OnPayment:   func(r models.Result) { fired = append(fired, "payment"); got = r },
			}
			w, _, bus := newWidget(t, widget.Options{}, &fakeSigner{}, cb)
			require.NoError(t, w.Open(context.Background()))

			bus.Post(resultMessage(t, map[string]any{"summarycode": c.code, "restext": "text"}))

			require.Equal(t, []string{c.fired}, fired)
			require.Equal(t, c.outcome, got.Outcome)
			require.Equal(t, "sig1", got.Fingerprint)
		})
	}
}

func TestReceive_FallsBackToGenericCallback(t *testing.T) {
	var got []models.Outcome
	w, _, bus := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{
		OnPayment: func(r models.Result) { got = append(got, r.Outcome) },
	})

	for _, code := range []string{"1", "4"} {
		require.NoError(t, w.Open(context.Background()))
		bus.Post(resultMessage(t, map[string]any{"summarycode": code}))
	}
	require.NoError(t, w.Open(context.Background()))
	bus.Post(resultMessage(t, map[string]any{"summarycode": 3}))

	require.Equal(t, []models.Outcome{models.OutcomeApproved, models.OutcomeCancelled, models.OutcomeDeclinedOther}, got)
	require.Equal(t, widget.ErrorShown, w.State())
}

func TestReceive_DeclineThenRetry(t *testing.T) {
	var reason string
	var declined models.Result
	signer := &fakeSigner{}
	w, host, bus := newWidget(t, widget.Options{ErrorButtons: [2]string{"Try again", "Cancel"}}, signer, widget.Callbacks{
		OnDeclined: func(r string, res models.Result) { reason, declined = r, res },
	})
	require.NoError(t, w.Open(context.Background()))

	bus.Post(resultMessage(t, map[string]any{"summarycode": "2", "restext": "insufficient funds"}))

	require.Equal(t, "insufficient funds", reason)
	require.Equal(t, models.OutcomeDeclinedBank, declined.Outcome)
	require.Equal(t, widget.ErrorShown, w.State())
	snap := w.Snapshot()
	require.Equal(t, "insufficient funds", snap.Error)
	require.Empty(t, snap.Fingerprint)
	require.NotEmpty(t, snap.Request.Payor)
	require.Equal(t, []string{"open", "error"}, host.Calls())
	require.Equal(t, widget.Notice{Reason: "insufficient funds", RetryLabel: "Try again", CloseLabel: "Cancel"}, host.notices[0])

	require.NoError(t, w.Retry(context.Background()))

	require.Len(t, signer.subjects, 2)
	require.Equal(t, []string{"open", "error", "replace"}, host.Calls())
	require.Equal(t, widget.AwaitingResult, w.State())
	snap = w.Snapshot()
	require.Equal(t, "sig2", snap.Fingerprint)
	require.Empty(t, snap.Error)
	require.Contains(t, host.LastDoc().HTML, `name="fingerprint" value="sig2"`)
}

func TestRetry_SigningFailureKeepsOverlay(t *testing.T) {
	signer := &fakeSigner{}
	var errs []error
	w, host, bus := newWidget(t, widget.Options{}, signer, widget.Callbacks{
		OnError: func(err error) { errs = append(errs, err) },
	})
	require.NoError(t, w.Open(context.Background()))
	bus.Post(resultMessage(t, map[string]any{"summarycode": "3"}))

	signer.err = errors.New("boom")
	require.ErrorIs(t, w.Retry(context.Background()), widget.ErrSigning)

	require.Equal(t, widget.ErrorShown, w.State())
	require.Equal(t, []string{"open", "error", "error"}, host.Calls())
	require.Len(t, errs, 1)

	signer.err = nil
	require.NoError(t, w.Retry(context.Background()))
	require.Equal(t, widget.AwaitingResult, w.State())
}

func TestRetry_OnlyAfterDeclineOrTimeout(t *testing.T) {
	w, _, _ := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{})
	require.ErrorIs(t, w.Retry(context.Background()), widget.ErrNothingToRetry)
	require.NoError(t, w.Open(context.Background()))
	require.ErrorIs(t, w.Retry(context.Background()), widget.ErrNothingToRetry)
}

func TestReceive_ForeignSourceIgnored(t *testing.T) {
	fired := false
	var reasons []string
	cb := widget.Callbacks{
		OnPayment: func(models.Result) { fired = true },
		OnIgnored: func(_ widget.Message, reason string) { reasons = append(reasons, reason) },
	}
	w, host, bus := newWidget(t, widget.Options{}, &fakeSigner{}, cb)
	require.NoError(t, w.Open(context.Background()))
	before := w.Snapshot()

	msg := resultMessage(t, map[string]any{"summarycode": "1"})
	msg.Source = "other-widget"
	bus.Post(msg)

	require.False(t, fired)
	require.Equal(t, before, w.Snapshot())
	require.Equal(t, []string{"open"}, host.Calls())
	require.Equal(t, []string{"source"}, reasons)
}

func TestReceive_IgnoredWhenIdle(t *testing.T) {
	fired := false
	w, _, bus := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{
		OnPayment: func(models.Result) { fired = true },
	})
	bus.Post(resultMessage(t, map[string]any{"summarycode": "1"}))
	require.False(t, fired)
	require.Equal(t, widget.Idle, w.State())
}

func TestReceive_Correlation(t *testing.T) {
	var approved []string
	bus := widget.NewBus()
	mk := func(prefix string, opts widget.Options) *widget.Widget {
		o := testOptions(opts)
		n := 0
		o.NewID = func() string {
			n++
			return fmt.Sprintf("%s-%d", prefix, n)
		}
		w, err := widget.New(testLogger(), o, &fakeSigner{}, &recordingHost{}, widget.Callbacks{
			OnApproved: func(r models.Result) { approved = append(approved, r.Correlation) },
		})
		require.NoError(t, err)
		w.Mount(bus)
		t.Cleanup(w.Unmount)
		return w
	}
	a := mk("a", widget.Options{})
	b := mk("b", widget.Options{StrictCorrelation: true})
	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, b.Open(context.Background()))

	msg := resultMessage(t, map[string]any{"summarycode": "1"})
	msg.Correlation = "someone-else"
	bus.Post(msg)
	require.Empty(t, approved)

	msg.Correlation = ""
	bus.Post(msg)
	require.Equal(t, []string{a.ID()}, approved)
	require.Equal(t, widget.AwaitingResult, b.State())

	msg.Correlation = b.ID()
	bus.Post(msg)
	require.Equal(t, []string{a.ID(), b.ID()}, approved)
}

func TestReceive_UnclassifiedPolicy(t *testing.T) {
	t.Run("generic", func(t *testing.T) {
		var got *models.Result
		w, host, bus := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{
			OnPayment: func(r models.Result) { got = &r },
		})
		require.NoError(t, w.Open(context.Background()))
		bus.Post(resultMessage(t, map[string]any{"restext": "who knows"}))

		require.NotNil(t, got)
		require.Equal(t, models.OutcomeUnclassified, got.Outcome)
		require.Equal(t, widget.Idle, w.State())
		require.Equal(t, []string{"open", "close"}, host.Calls())
	})

	t.Run("generic without callback", func(t *testing.T) {
		approved := false
		w, host, bus := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{
			OnApproved: func(models.Result) { approved = true },
		})
		require.NoError(t, w.Open(context.Background()))
		bus.Post(resultMessage(t, map[string]any{"summarycode": "9"}))

		require.False(t, approved)
		require.Equal(t, widget.Idle, w.State())
		require.Equal(t, []string{"open", "close"}, host.Calls())
	})

	t.Run("drop", func(t *testing.T) {
		fired := false
		w, _, bus := newWidget(t, widget.Options{Unclassified: widget.UnclassifiedDrop}, &fakeSigner{}, widget.Callbacks{
			OnPayment: func(models.Result) { fired = true },
		})
		require.NoError(t, w.Open(context.Background()))
		bus.Post(resultMessage(t, map[string]any{"summarycode": "9"}))

		require.False(t, fired)
		require.Equal(t, widget.Idle, w.State())
	})
}

func TestReceive_UnencodedGoesToGeneric(t *testing.T) {
	var got models.Result
	approved := false
	w, host, bus := newWidget(t, widget.Options{Unclassified: widget.UnclassifiedDrop}, &fakeSigner{}, widget.Callbacks{
		OnApproved: func(models.Result) { approved = true },
		OnPayment:  func(r models.Result) { got = r },
	})
	require.NoError(t, w.Open(context.Background()))

	bus.Post(widget.Message{Source: widget.SourceMarker, Payload: json.RawMessage(`{"summarycode":"1"}`)})

	require.False(t, approved)
	require.Equal(t, models.OutcomeUnencoded, got.Outcome)
	require.JSONEq(t, `{"summarycode":"1"}`, string(got.Raw))
	require.Equal(t, []string{"open", "close"}, host.Calls())
}

func TestReceive_UndecodablePayload(t *testing.T) {
	var got models.Result
	w, _, bus := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{
		OnPayment: func(r models.Result) { got = r },
	})
	require.NoError(t, w.Open(context.Background()))

	bus.Post(widget.Message{Source: widget.SourceMarker, Encoding: widget.EncodingBase64, Payload: json.RawMessage(`"%%%"`)})

	require.Equal(t, models.OutcomeUnclassified, got.Outcome)
	require.NotEmpty(t, got.DecodeError)
	require.Equal(t, widget.Idle, w.State())
}

func TestReceive_ApprovedStoreCorrelatesWithSignedSubject(t *testing.T) {
	signer := &fakeSigner{}
	var got models.Result
	w, _, bus := newWidget(t, widget.Options{Kind: models.KindStore, Payor: "abc"}, signer, widget.Callbacks{
		OnApproved: func(r models.Result) { got = r },
	})
	require.NoError(t, w.Open(context.Background()))

	bus.Post(resultMessage(t, map[string]any{
		"summarycode": "1", "strescode": "00", "payor": "abc", "timestamp": "20300203045700",
	}))

	require.Equal(t, signer.subjects[0], got.Subject)
	require.True(t, got.BankApproved())
	require.Equal(t, "abc", string(got.Payload.Payor))
	require.Empty(t, w.Snapshot().Fingerprint)
}

func TestReceive_PreAuthCorrelation(t *testing.T) {
	signer := &fakeSigner{}
	var got models.Result
	w, _, bus := newWidget(t, widget.Options{Kind: models.KindPreAuth, Reference: "INV-1", Amount: 500}, signer, widget.Callbacks{
		OnApproved: func(r models.Result) { got = r },
	})
	require.NoError(t, w.Open(context.Background()))

	bus.Post(resultMessage(t, map[string]any{"summarycode": 1, "refid": "INV-1", "amount": 500, "timestamp": "20300203045607"}))
	require.Equal(t, signer.subjects[0], got.Subject)
}

func TestReceive_StaleTimestampDoesNotCorrelate(t *testing.T) {
	signer := &fakeSigner{}
	var got models.Result
	w, _, bus := newWidget(t, widget.Options{Kind: models.KindPreAuth, Reference: "INV-1", Amount: 500}, signer, widget.Callbacks{
		OnApproved: func(r models.Result) { got = r },
	})
	require.NoError(t, w.Open(context.Background()))

	bus.Post(resultMessage(t, map[string]any{"summarycode": "1", "refid": "INV-1", "amount": "500", "timestamp": "19990101000000"}))

	require.Equal(t, "1|INV-1|500|19990101000000", got.Subject)
	require.NotEqual(t, signer.subjects[0], got.Subject)
}

func TestResultTimeout(t *testing.T) {
	timedOut := make(chan models.Result, 1)
	var errs []error
	var mu sync.Mutex
	w, host, _ := newWidget(t, widget.Options{ResultTimeout: 20 * time.Millisecond}, &fakeSigner{}, widget.Callbacks{
		OnTimeout: func(r models.Result) { timedOut <- r },
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})
	require.NoError(t, w.Open(context.Background()))

	select {
	case r := <-timedOut:
		require.Equal(t, models.OutcomeTimedOut, r.Outcome)
		require.Equal(t, "sig1", r.Fingerprint)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback not invoked")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, errs[0], widget.ErrResultTimeout)
	require.Equal(t, widget.TimedOut, w.State())
	require.Equal(t, []string{"open", "error"}, host.Calls())

	require.NoError(t, w.Retry(context.Background()))
	require.Equal(t, []string{"open", "error", "replace"}, host.Calls())
	w.Close()
}

func TestResultTimeout_StoppedByResult(t *testing.T) {
	timedOut := make(chan struct{}, 1)
	w, _, bus := newWidget(t, widget.Options{ResultTimeout: 30 * time.Millisecond}, &fakeSigner{}, widget.Callbacks{
		OnTimeout: func(models.Result) { timedOut <- struct{}{} },
	})
	require.NoError(t, w.Open(context.Background()))
	bus.Post(resultMessage(t, map[string]any{"summarycode": "1"}))

	select {
	case <-timedOut:
		t.Fatal("timeout fired after a result")
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, widget.Idle, w.State())
}

func TestMountUnmount(t *testing.T) {
	host := &recordingHost{}
	fired := false
	w, err := widget.New(testLogger(), testOptions(widget.Options{}), &fakeSigner{}, host, widget.Callbacks{
		OnPayment: func(models.Result) { fired = true },
	})
	require.NoError(t, err)

	bus := widget.NewBus()
	w.Mount(bus)
	w.Mount(bus)
	require.Equal(t, 1, bus.Len())

	require.NoError(t, w.Open(context.Background()))
	w.Unmount()
	w.Unmount()
	require.Equal(t, 0, bus.Len())
	require.Equal(t, widget.Idle, w.State())
	require.Equal(t, []string{"open", "close"}, host.Calls())

	bus.Post(resultMessage(t, map[string]any{"summarycode": "1"}))
	require.False(t, fired)
}

func TestDocument_DerivedFromState(t *testing.T) {
	w, host, _ := newWidget(t, widget.Options{}, &fakeSigner{}, widget.Callbacks{})

	_, err := w.Document()
	require.ErrorIs(t, err, widget.ErrNotReady)

	require.NoError(t, w.Open(context.Background()))
	doc, err := w.Document()
	require.NoError(t, err)
	require.Equal(t, host.LastDoc().HTML, doc.HTML)

	w.Close()
	_, err = w.Document()
	require.ErrorIs(t, err, widget.ErrNotReady)
}

func TestNew_Validation(t *testing.T) {
	_, err := widget.New(testLogger(), widget.Options{}, nil, nil, widget.Callbacks{})
	require.Error(t, err)

	_, err = widget.New(testLogger(), widget.Options{Amount: -1}, &fakeSigner{}, nil, widget.Callbacks{})
	require.Error(t, err)

	_, err = widget.New(testLogger(), widget.Options{Kind: "7"}, &fakeSigner{}, nil, widget.Callbacks{})
	require.Error(t, err)

	w, err := widget.New(testLogger(), widget.Options{}, &fakeSigner{}, nil, widget.Callbacks{})
	require.NoError(t, err)
	require.Equal(t, widget.Trigger{Label: "Set Card", Event: "click"}, w.Trigger())
}
