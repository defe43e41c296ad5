package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/loadprobe/internal/config"
	"github.com/hamed0406/loadprobe/internal/probe"
)

// Supervisor drives one tick loop per probe until the run context is
// cancelled.
type Supervisor struct {
	Logger   *zap.Logger
	Interval time.Duration
	// ErrorFields are attached to every probe_error record, typically the
	// configured timeouts.
	ErrorFields []zap.Field

	newTicker func(time.Duration) ticker
}

func NewSupervisor(logger *zap.Logger, cfg config.Config) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		Logger:      logger,
		Interval:    cfg.Interval,
		ErrorFields: cfg.TimeoutFields(),
		newTicker:   newRealTicker,
	}
}

// Run starts a worker per probe and blocks until every worker has exited.
// Workers never stop on probe failure; only ctx cancellation ends them. An
// attempt in flight when ctx is cancelled finishes (or is interrupted by the
// probe honouring ctx) before Run returns.
func (s *Supervisor) Run(ctx context.Context, probes []probe.Probe) error {
	if len(probes) == 0 {
		return &config.Error{Option: "parallel", Err: errors.New("no probes to run")}
	}
	if s.Interval <= 0 {
		return &config.Error{Option: "interval_ms", Err: fmt.Errorf("interval must be > 0, got %s", s.Interval)}
	}
	newTicker := s.newTicker
	if newTicker == nil {
		newTicker = newRealTicker
	}

	s.Logger.Info("supervisor_started",
		zap.Int("workers", len(probes)),
		zap.Duration("interval", s.Interval),
	)

	var g errgroup.Group
	for i, p := range probes {
		i, p := i, p
		t := newTicker(s.Interval)
		g.Go(func() error {
			s.work(ctx, i, p, t)
			return nil
		})
	}
	err := g.Wait()

	s.Logger.Info("supervisor_stopped", zap.Int("workers", len(probes)))
	return err
}

func (s *Supervisor) work(ctx context.Context, id int, p probe.Probe, t ticker) {
	defer t.Stop()
	log := s.Logger.With(zap.Int("worker", id))
	log.Debug("worker_started")
	defer log.Debug("worker_stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			// Both cases may be ready at once; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			s.attempt(ctx, log, p)
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context, log *zap.Logger, p probe.Probe) {
	start := time.Now()
	res, err := safeAttempt(ctx, p)
	if err == nil {
		log.Debug("probe_ok",
			zap.Int("status", res.StatusCode),
			zap.Duration("latency", res.Latency),
			zap.Duration("connect", res.Connect),
			zap.Duration("tls_handshake", res.TLSHandshake),
			zap.Duration("server_processing", res.ServerProcessing),
		)
		return
	}

	if ctx.Err() != nil {
		log.Debug("probe_interrupted", zap.Error(err))
		return
	}

	fields := make([]zap.Field, 0, len(s.ErrorFields)+3)
	fields = append(fields, zap.Error(err))
	var perr *probe.Error
	if errors.As(err, &perr) {
		fields = append(fields, zap.String("op", perr.Op), zap.Duration("latency", perr.Latency))
	} else {
		fields = append(fields, zap.Duration("latency", time.Since(start)))
	}
	fields = append(fields, s.ErrorFields...)
	log.Error("probe_error", fields...)
}

// safeAttempt turns a panicking probe into an ordinary attempt error.
func safeAttempt(ctx context.Context, p probe.Probe) (res probe.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Attempt(ctx)
}
