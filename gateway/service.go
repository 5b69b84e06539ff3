package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/alovak/secureframe/gateway/models"
	"github.com/alovak/secureframe/internal/events"
	"github.com/alovak/secureframe/internal/fptime"
	"github.com/alovak/secureframe/internal/metrics"
	"github.com/alovak/secureframe/internal/security"
	"github.com/alovak/secureframe/widget"
	widgetmodels "github.com/alovak/secureframe/widget/models"
)

var ErrInvalidSession = errors.New("invalid session request")

const recordTimeout = 5 * time.Second

// session is one embedding page: a widget, its frame and the page's message channel.
type session struct {
	id     string
	widget *widget.Widget
	host   *frameHost
	bus    *widget.Bus
	// lastSeen is guarded by Service.mu.
	lastSeen time.Time
}

type Service struct {
	cfg       *Config
	logger    *slog.Logger
	signer    security.Signer
	repo      *Repository
	guard     ReplayGuard
	publisher events.Publisher
	metrics   *metrics.Metrics

	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	sessions map[string]*session
}

type ServiceDeps struct {
	Signer    security.Signer
	Repo      *Repository
	Guard     ReplayGuard
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

func NewService(logger *slog.Logger, cfg *Config, deps ServiceDeps) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Repo == nil {
		deps.Repo = NewRepository()
	}
	if deps.Guard == nil {
		deps.Guard = NewMemoryReplayGuard(cfg.ReplayTTL)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		signer:    &instrumentedSigner{next: deps.Signer, metrics: deps.Metrics, timeout: cfg.SignTimeout},
		repo:      deps.Repo,
		guard:     deps.Guard,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		now:       time.Now,
		newID:     uuid.NewString,
		sessions:  make(map[string]*session),
	}
}

// Open creates a session and runs its first handshake.
func (s *Service) Open(ctx context.Context, req models.CreateSession) (*models.Session, error) {
	opts, err := s.options(req)
	if err != nil {
		return nil, err
	}

	sess := &session{host: &frameHost{}, bus: widget.NewBus()}
	w, err := widget.New(s.logger, opts, s.signer, sess.host, s.callbacks(sess))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	sess.id = w.ID()
	sess.widget = w
	sess.lastSeen = s.now()
	w.Mount(sess.bus)

	s.handshakeStarted(opts.Kind, false)
	if err := w.Open(ctx); err != nil {
		w.Unmount()
		return nil, fmt.Errorf("opening session: %w", err)
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(n))
	}

	return s.view(sess), nil
}

func (s *Service) Get(id string) (*models.Session, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// Frame returns the page the session's frame shows right now.
func (s *Service) Frame(id string) (string, error) {
	sess, err := s.session(id)
	if err != nil {
		return "", err
	}
	html, ok := sess.host.current()
	if !ok {
		return "", widget.ErrNotReady
	}
	return html, nil
}

// Relay posts a message from the payment page onto the session's channel.
func (s *Service) Relay(id string, msg widget.Message) (*models.Session, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.bus.Post(msg)
	return s.view(sess), nil
}

func (s *Service) Retry(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	s.handshakeStarted(sess.widget.Snapshot().Request.Kind, true)
	if err := sess.widget.Retry(ctx); err != nil {
		return nil, fmt.Errorf("retrying session: %w", err)
	}
	return s.view(sess), nil
}

// Close ends the session. Outcomes already recorded stay in the ledger.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(n))
	}
	sess.widget.Unmount()
	return nil
}

// Outcomes lists what a session recorded. Outcomes outlive the session, so a
// closed or evicted session is only unknown once it has none.
func (s *Service) Outcomes(ctx context.Context, id string) ([]*models.Outcome, error) {
	outcomes, err := s.repo.ListOutcomes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		if _, err := s.session(id); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

// Sweep unmounts sessions unused for longer than the session TTL and returns
// how many were evicted.
func (s *Service) Sweep() int {
	ttl := s.cfg.SessionTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	var expired []*session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		sess.widget.Unmount()
		s.logger.Info("session expired", slog.String("session", sess.id))
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(n))
	}
	return len(expired)
}

// CloseAll unmounts every session, stopping pending timers.
func (s *Service) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.widget.Unmount()
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(0)
	}
}

func (s *Service) session(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.lastSeen = s.now()
	return sess, nil
}

func (s *Service) view(sess *session) *models.Session {
	return &models.Session{
		Snapshot: sess.widget.Snapshot(),
		Trigger:  sess.widget.Trigger(),
		FrameURL: s.cfg.PublicURL + "/sessions/" + sess.id + "/frame",
		Notice:   sess.host.currentNotice(),
	}
}

func (s *Service) options(req models.CreateSession) (widget.Options, error) {
	opts := s.cfg.WidgetOptions()
	if req.Kind != "" {
		k, ok := widgetmodels.ParseKind(req.Kind)
		if !ok {
			return opts, fmt.Errorf("%w: unsupported kind %q", ErrInvalidSession, req.Kind)
		}
		opts.Kind = k
	}
	if req.StoreKind != "" {
		opts.StoreKind = widgetmodels.StoreKind(req.StoreKind)
	}
	if req.Payor != "" {
		opts.Payor = req.Payor
	}
	if req.Reference != "" {
		opts.Reference = req.Reference
	}
	if req.Amount != 0 {
		opts.Amount = req.Amount
	}
	if req.ReturnURL != "" {
		opts.ReturnURL = req.ReturnURL
	}
	return opts, nil
}

func (s *Service) callbacks(sess *session) widget.Callbacks {
	record := func(res widgetmodels.Result) { s.record(sess, res) }
	return widget.Callbacks{
		OnApproved:  record,
		OnDeclined:  func(_ string, res widgetmodels.Result) { record(res) },
		OnCancelled: record,
		OnPayment:   record,
		OnTimeout:   record,
		OnError: func(err error) {
			s.logger.Warn("handshake failed", slog.String("session", sess.id), "err", err)
		},
		OnIgnored: func(_ widget.Message, reason string) {
			if s.metrics != nil {
				s.metrics.IgnoredMessages.WithLabelValues(reason).Inc()
			}
		},
	}
}

// record settles a result once per payment page transaction, then stores and publishes it.
func (s *Service) record(sess *session, res widgetmodels.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	logger := s.logger.With(slog.String("session", sess.id), slog.String("outcome", string(res.Outcome)))
	if age, err := fptime.Age(res.Request.Timestamp, s.now()); err == nil {
		logger = logger.With(slog.Duration("fingerprint_age", age))
	}

	o := models.NewOutcome(s.newID(), sess.id, res, s.now())
	claimed := false
	if o.TxnID != "" {
		ok, err := s.guard.Claim(ctx, o.TxnID)
		switch {
		case err != nil:
			logger.Warn("replay guard unavailable, recording anyway", "err", err)
		case !ok:
			logger.Info("dropping replayed result")
			s.replayDropped()
			return
		}
		claimed = ok
	}

	if err := s.repo.SaveOutcome(ctx, o); err != nil {
		if errors.Is(err, ErrConflict) {
			logger.Info("dropping replayed result")
			s.replayDropped()
			return
		}
		logger.Error("saving outcome", "err", err)
		if claimed {
			if err := s.guard.Release(ctx, o.TxnID); err != nil {
				logger.Error("releasing transaction claim", "err", err)
			}
		}
		return
	}
	if s.metrics != nil {
		s.metrics.Outcomes.WithLabelValues(string(res.Outcome)).Inc()
	}

	ev := events.OutcomeEvent{
		SessionID:   sess.id,
		Outcome:     string(o.Outcome),
		Kind:        o.Kind.String(),
		Payor:       o.Payor,
		Reference:   o.Reference,
		Amount:      o.Amount,
		Subject:     o.Subject,
		Fingerprint: o.Fingerprint,
		Reason:      o.Reason,
		TxnID:       o.TxnID,
		OccurredAt:  o.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Error("publishing outcome", "err", err)
	}
}

func (s *Service) replayDropped() {
	if s.metrics != nil {
		s.metrics.ReplaysDropped.Inc()
	}
}

func (s *Service) handshakeStarted(kind widgetmodels.Kind, retry bool) {
	if s.metrics != nil {
		s.metrics.Handshakes.WithLabelValues(kind.String(), strconv.FormatBool(retry)).Inc()
	}
}

// Ready reports whether the ledger is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// instrumentedSigner bounds and measures every fingerprint request.
type instrumentedSigner struct {
	next    security.Signer
	metrics *metrics.Metrics
	timeout time.Duration
}

func (s *instrumentedSigner) Sign(ctx context.Context, subject string, data map[string]string) (security.Signature, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	sig, err := s.next.Sign(ctx, subject, data)
	if s.metrics != nil {
		s.metrics.SigningDuration.Observe(time.Since(start).Seconds())
		if err != nil || sig.Fingerprint == "" {
			s.metrics.SigningFailures.Inc()
		}
	}
	return sig, err
}
