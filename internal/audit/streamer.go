package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/irisforge/emissary/internal/model"
)

// StreamerConfig configures the durable DB-first streamer.
type StreamerConfig struct {
	// BatchSize is how many traces to claim per poll.
	BatchSize int

	// PollInterval applies when there is no work or after a batch.
	PollInterval time.Duration

	// MaxConcurrency bounds concurrent processing of claimed traces.
	MaxConcurrency int

	// StaleAfter is how long a claim may sit in_progress before a sweep
	// returns it to pending. Covers a streamer killed mid-batch.
	StaleAfter time.Duration
}

// Streamer forwards stored workflow traces to downstream consumers:
//   - claims pending traces from the PGStore (FOR UPDATE SKIP LOCKED)
//   - produces each trace to Kafka, keyed by trace ID
//   - archives the trace JSON to object storage when an archiver is set
//   - marks the row done or back to pending so the database stays the
//     source of truth for retries
//   - periodically requeues stale in_progress claims left behind by an
//     interrupted run
type Streamer struct {
	store    *PGStore
	producer Producer
	archiver Archiver
	cfg      StreamerConfig
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewStreamer constructs a streamer. Zero cfg fields get sensible defaults.
// The archiver may be nil when object archival is not configured.
func NewStreamer(store *PGStore, producer Producer, archiver Archiver, cfg StreamerConfig, logger *slog.Logger) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		store:    store,
		producer: producer,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the streamer loop and blocks until ctx is cancelled. It is
// safe to run in a goroutine.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Info("trace streamer starting",
		"batch", s.cfg.BatchSize, "concurrency", s.cfg.MaxConcurrency)
	defer s.logger.Info("trace streamer stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	var lastSweep time.Time
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		// the first pass sweeps immediately, recovering claims stranded
		// by a previous run killed mid-batch
		if time.Since(lastSweep) >= s.cfg.StaleAfter {
			s.sweepStale(ctx)
			lastSweep = time.Now()
		}

		traces, err := s.store.FetchPendingTraces(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logger.Warn("fetch pending traces", "error", err)
			sleepOrDone(ctx, s.cfg.PollInterval)
			continue
		}
		if len(traces) == 0 {
			sleepOrDone(ctx, s.cfg.PollInterval)
			continue
		}

		for _, w := range traces {
			select {
			case <-ctx.Done():
			case sem <- struct{}{}:
				s.wg.Add(1)
				go func(w *model.WorkflowTrace) {
					defer func() {
						<-sem
						s.wg.Done()
					}()
					if err := s.processTrace(ctx, w); err != nil {
						s.logger.Warn("stream trace",
							"trace_id", w.TraceID, "error", err)
					}
				}(w)
			}
		}
		s.wg.Wait()
	}
}

// sweepStale returns long-claimed in_progress rows to pending.
func (s *Streamer) sweepStale(ctx context.Context) {
	n, err := s.store.RequeueStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		s.logger.Warn("requeue stale traces", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("requeued stale traces", "count", n)
	}
}

// processTrace produces one trace to Kafka, archives it, and records the
// outcome in the store.
func (s *Streamer) processTrace(ctx context.Context, w *model.WorkflowTrace) error {
	err := s.forward(ctx, w)
	if err != nil {
		if markErr := s.store.MarkStreamResult(ctx, w.TraceID, false, err.Error()); markErr != nil {
			s.logger.Warn("mark stream failure", "trace_id", w.TraceID, "error", markErr)
		}
		return err
	}
	if err := s.store.MarkStreamResult(ctx, w.TraceID, true, ""); err != nil {
		return fmt.Errorf("mark stream success: %w", err)
	}
	s.logger.Info("streamed workflow trace",
		"trace_id", w.TraceID,
		"overall_status", string(w.OverallStatus),
		"steps", len(w.StepsExecuted))
	return nil
}

func (s *Streamer) forward(ctx context.Context, w *model.WorkflowTrace) error {
	value, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow trace: %w", err)
	}
	if err := s.producer.Produce(ctx, []byte(w.TraceID), value); err != nil {
		return fmt.Errorf("produce trace: %w", err)
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveTrace(ctx, w); err != nil {
			return fmt.Errorf("archive trace: %w", err)
		}
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
