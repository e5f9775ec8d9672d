package ingestion

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/your-org/mediadrop/internal/intake"
	"github.com/your-org/mediadrop/pkg/kafka"
	"github.com/your-org/mediadrop/pkg/metrics"
	"github.com/your-org/mediadrop/pkg/storage/objectstore"
)

// ErrSessionNotFound is returned for unknown or closed session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Service owns the intake sessions of every connected host page and wires
// them to the resolver, Kafka and metrics.
type Service struct {
	collector *intake.Collector
	publisher kafka.Publisher
	objects   objectstore.Client
	metrics   *metrics.Intake
	logger    *zap.Logger
	policy    intake.Policy

	mu       sync.RWMutex
	sessions map[string]*Session
}

type Params struct {
	Objects   objectstore.Client
	Publisher kafka.Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Intake
	Policy    intake.Policy
	Resolver  ResolverOptions
}

// ResolverOptions tunes remote reference fetching.
type ResolverOptions struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Concurrency   int
}

// SessionOptions configure one upload widget. Zero ceilings inherit the service policy.
type SessionOptions struct {
	PasteScope    intake.Element
	WindowPaste   bool
	MaxImageBytes int64
	MaxVideoBytes int64
}

// Session is one host page: its window, its upload widget and the widget's notices.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Window     *intake.Window
	Controller *intake.Controller
	Picker     *intake.PickerInput
	Notices    *intake.Notices

	lastSeen atomic.Int64
}

// Touch marks the session as active at t.
func (s *Session) Touch(t time.Time) {
	s.lastSeen.Store(t.UnixNano())
}

// LastSeen returns the last time the session was touched.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// NewService constructs an intake Service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = kafka.Discard{}
	}

	var limiter *rate.Limiter
	if p.Resolver.RatePerSecond > 0 {
		burst := p.Resolver.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(p.Resolver.RatePerSecond), burst)
	}

	resolver := intake.NewResolver(intake.ResolverParams{
		HTTPClient: &http.Client{Timeout: p.Resolver.Timeout},
		Objects:    p.Objects,
		Limiter:    limiter,
		MaxBytes:   p.Policy.FetchLimit(),
		Logger:     logger.Named("resolver"),
		Recorder:   p.Metrics,
	})

	return &Service{
		collector: intake.NewCollector(intake.CollectorParams{
			Resolver:    resolver,
			Concurrency: p.Resolver.Concurrency,
			Logger:      logger.Named("collector"),
		}),
		publisher: publisher,
		objects:   p.Objects,
		metrics:   p.Metrics,
		logger:    logger,
		policy:    p.Policy,
		sessions:  make(map[string]*Session),
	}
}

// Open creates and mounts a new session.
func (s *Service) Open(opts SessionOptions) (*Session, error) {
	policy := s.policy
	if opts.MaxImageBytes > 0 {
		policy.MaxImageBytes = opts.MaxImageBytes
	}
	if opts.MaxVideoBytes > 0 {
		policy.MaxVideoBytes = opts.MaxVideoBytes
	}

	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Window:    intake.NewWindow(),
		Picker:    &intake.PickerInput{},
		Notices:   &intake.Notices{},
	}
	sess.Touch(sess.CreatedAt)

	logger := s.logger.With(zap.String("session_id", sess.ID))
	ctrl, err := intake.NewController(intake.Params{
		Config: intake.Config{
			Policy:      policy,
			PasteScope:  opts.PasteScope,
			WindowPaste: opts.WindowPaste,
			OnAccepted:  s.onAccepted(sess.ID, logger),
			Reporter:    s.reporter(sess, logger),
		},
		Collector: s.collector,
		Logger:    logger.Named("controller"),
		Recorder:  s.metrics,
	})
	if err != nil {
		return nil, err
	}
	sess.Controller = ctrl
	ctrl.Mount(sess.Window)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.metrics.SessionOpened()

	logger.Info("session opened",
		zap.String("paste_scope", string(opts.PasteScope)),
		zap.Bool("window_paste", opts.WindowPaste),
		zap.Int64("max_image_bytes", policy.MaxImageBytes),
		zap.Int64("max_video_bytes", policy.MaxVideoBytes),
	)
	return sess, nil
}

// Get returns the session with the given ID.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// CloseSession unmounts and forgets a session.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.teardown(sess, "closed")
	return nil
}

// Sweep closes sessions idle for longer than maxIdle and returns how many it closed.
func (s *Service) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	var idle []*Session
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.teardown(sess, "expired")
	}
	return len(idle)
}

func (s *Service) teardown(sess *Session, why string) {
	sess.Controller.Unmount()
	s.metrics.SessionClosed()
	s.logger.Info("session "+why, zap.String("session_id", sess.ID))
}

// Close unmounts every session and releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		s.teardown(sess, "closed")
	}

	err := s.publisher.Close(ctx)
	if s.objects != nil {
		err = multierr.Append(err, s.objects.Close())
	}
	return err
}

func (s *Service) onAccepted(sessionID string, logger *zap.Logger) func(context.Context, []intake.File) {
	return func(ctx context.Context, files []intake.File) {
		event := FilesAcceptedEvent{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Files:     acceptedFiles(files),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.publisher.PublishJSON(ctx, sessionID, EventFilesAccepted, event); err != nil {
			logger.Error("publish accepted event failed", zap.Error(err))
		}
		logger.Info("files accepted", zap.Int("count", len(files)))
	}
}

func (s *Service) reporter(sess *Session, logger *zap.Logger) intake.Reporter {
	return intake.ReporterFunc(func(ctx context.Context, r intake.Report) {
		sess.Notices.Report(ctx, r)

		event := FilesRejectedEvent{
			ID:        r.ID,
			SessionID: sess.ID,
			Source:    string(r.Source),
			Entries:   r.Entries,
			CreatedAt: r.CreatedAt,
		}
		if err := s.publisher.PublishJSON(ctx, sess.ID, EventFilesRejected, event); err != nil {
			logger.Error("publish rejected event failed", zap.Error(err))
		}
	})
}
