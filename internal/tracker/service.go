package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lereldarion/xstalker/internal/aggregate"
	"github.com/lereldarion/xstalker/internal/classify"
	"github.com/lereldarion/xstalker/internal/config"
	"github.com/lereldarion/xstalker/internal/database"
	"github.com/lereldarion/xstalker/internal/metrics"
	"github.com/lereldarion/xstalker/internal/models"
	"github.com/lereldarion/xstalker/pkg/window"
)

// foldMsg is one unit of work for the fold worker. The ingestion loop
// is its only producer, which keeps append, checkpoint and prune
// ordering identical to event order.
type foldMsg struct {
	interval    *Interval
	rejection   *models.RejectedEvent
	checkpoint  bool
	pruneBefore time.Time
}

// Status is a point-in-time snapshot of the engine, safe to read from
// any goroutine.
type Status struct {
	Running    bool      `json:"running"`
	Tracking   bool      `json:"tracking"`
	Category   string    `json:"category,omitempty"`
	OpenedAt   time.Time `json:"opened_at,omitempty"`
	Cursor     uint64    `json:"cursor"`
	QueueDepth int       `json:"queue_depth"`
}

// Service wires the tracker state machine to a window source and the
// store. One ingestion loop owns the state machine; one fold worker
// owns every database write and the bucket table mutations. Readers
// see the table through Table and the engine through Status.
type Service struct {
	config     *config.Config
	repo       *database.Repository
	classifier *classify.Classifier
	source     window.Source
	metrics    *metrics.Metrics
	log        zerolog.Logger

	tracker *Tracker
	table   *aggregate.Table

	foldQ     chan foldMsg
	flushChan chan time.Time
	pruneChan chan time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	cron      *cron.Cron

	running   atomic.Bool
	open      atomic.Pointer[Interval]
	cursor    atomic.Uint64
	persisted uint64 // checkpoint cursor found at startup
	failErr   error  // set by the fold worker before Stop
}

// NewService assembles the engine. Start must be called before events
// flow.
func NewService(cfg *config.Config, repo *database.Repository, classifier *classify.Classifier,
	source window.Source, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		config:     cfg,
		repo:       repo,
		classifier: classifier,
		source:     source,
		metrics:    m,
		log:        logger,
		tracker:    New(classifier),
		table:      aggregate.NewTable(cfg.Tracker.Slot()),
		foldQ:      make(chan foldMsg, cfg.Tracker.QueueSize),
		flushChan:  make(chan time.Time, 1),
		pruneChan:  make(chan time.Time, 1),
		stopChan:   make(chan struct{}),
	}
}

// Table exposes the live bucket table for the query service.
func (s *Service) Table() *aggregate.Table {
	return s.table
}

// Start recovers state from the store and runs the engine until the
// context is cancelled or Stop is called. It blocks for the lifetime
// of the engine.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("tracker is already running")
	}
	defer s.running.Store(false)

	if err := s.recoverState(); err != nil {
		return err
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every "+s.config.Tracker.FlushInterval.String(), s.requestFlush); err != nil {
		return errors.Wrap(err, "failed to schedule flush job")
	}
	if span := s.config.Tracker.RetentionSpan(); span > 0 {
		if _, err := s.cron.AddFunc("@every 1h", func() { s.requestPrune(span) }); err != nil {
			return errors.Wrap(err, "failed to schedule retention job")
		}
	}

	if err := s.source.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start window source")
	}

	s.wg.Add(1)
	go s.foldWorker()
	s.cron.Start()

	s.log.Info().
		Str("slot_width", s.config.Tracker.SlotWidth).
		Dur("flush_interval", s.config.Tracker.FlushInterval).
		Uint64("cursor", s.cursor.Load()).
		Msg("tracker started")

	err := s.run(ctx)
	s.shutdown()
	if s.failErr != nil {
		return s.failErr
	}
	return err
}

// Stop asks a running engine to shut down. Safe to call more than once
// and from any goroutine.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// IsRunning reports whether the engine loop is active.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Status reports the live engine state.
func (s *Service) Status() Status {
	st := Status{
		Running:    s.running.Load(),
		Cursor:     s.cursor.Load(),
		QueueDepth: len(s.foldQ),
	}
	if open := s.open.Load(); open != nil {
		st.Tracking = true
		st.Category = open.Category
		st.OpenedAt = open.Start
	}
	return st
}

// recoverState rebuilds the bucket table from the last checkpoint and
// replays logged intervals past the cursor. Rows that fail validation
// are moved to quarantine instead of aborting recovery.
func (s *Service) recoverState() error {
	cursor, rows, err := s.repo.LoadCheckpoint()
	if err != nil {
		return errors.Wrap(err, "failed to load checkpoint")
	}

	cells := make(map[aggregate.Key]time.Duration, len(rows))
	for _, row := range rows {
		k := aggregate.Key{Slot: row.SlotStart.UTC(), Category: row.Category}
		cells[k] += time.Duration(row.DurationNS)
	}
	s.table.Load(cells)
	s.persisted = cursor
	s.cursor.Store(cursor)

	var replayed, quarantined int
	err = s.repo.ReplayAfter(cursor, s.config.Tracker.ReplayBatch, func(rec *models.Interval) error {
		if reason := validateInterval(rec); reason != "" {
			if qerr := s.repo.Quarantine(rec, reason); qerr != nil {
				return qerr
			}
			s.metrics.IntervalsQuarantined.Inc()
			s.log.Warn().Uint64("seq", rec.Seq).Str("reason", reason).Msg("quarantined interval")
			quarantined++
			return nil
		}

		s.table.Apply(aggregate.Fold(rec.Category, rec.StartAt, rec.EndAt, s.table.Width()))
		if rec.Seq > s.cursor.Load() {
			s.cursor.Store(rec.Seq)
		}
		s.metrics.IntervalsReplayed.Inc()
		replayed++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "replay failed")
	}

	s.log.Info().
		Uint64("checkpoint", cursor).
		Uint64("cursor", s.cursor.Load()).
		Int("replayed", replayed).
		Int("quarantined", quarantined).
		Msg("recovery complete")
	return nil
}

// validateInterval returns a non-empty reason when a logged row cannot
// be folded.
func validateInterval(rec *models.Interval) string {
	if _, err := uuid.Parse(rec.IntervalID); err != nil {
		return "malformed interval id"
	}
	if rec.Category == "" {
		return "empty category"
	}
	if rec.StartAt.IsZero() || rec.EndAt.IsZero() {
		return "zero timestamp"
	}
	if !rec.EndAt.After(rec.StartAt) {
		return "non-positive duration"
	}
	return ""
}

func (s *Service) run(ctx context.Context) error {
	events := s.source.Events()
	signals := s.source.Signals()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("tracker stopped by context")
			return ctx.Err()

		case <-s.stopChan:
			s.log.Info().Msg("tracker stopping")
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleFocus(ev)

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			s.handleSignal(sig)

		case at := <-s.flushChan:
			s.handleFlush(at)

		case cutoff := <-s.pruneChan:
			s.enqueue(foldMsg{pruneBefore: cutoff})
		}
	}
}

func (s *Service) handleFocus(ev window.FocusEvent) {
	prev := s.tracker.Open()
	closed, err := s.tracker.OnFocus(ev)
	if err != nil {
		s.rejectEvent(ev.Time, prev, err)
		return
	}

	cur := s.tracker.Open()
	if prev != nil && cur != nil && prev.ID == cur.ID {
		s.metrics.EventsTotal.WithLabelValues(metrics.OutcomeDebounced).Inc()
		return
	}
	s.metrics.EventsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()
	s.open.Store(cur)
	s.metrics.Tracking.Set(1)

	if cur != nil {
		s.log.Debug().
			Str("category", cur.Category).
			Str("app", ev.Window.AppName).
			Str("title", ev.Window.Title).
			Msg("focus changed")
	}
	if closed != nil {
		s.enqueueInterval(closed)
	}
}

func (s *Service) handleSignal(sig window.Signal) {
	switch sig.Kind {
	case window.SignalIdle:
		closed, err := s.tracker.OnIdle(sig.Time)
		if err != nil {
			s.rejectEvent(sig.Time, s.tracker.Open(), err)
			return
		}
		s.open.Store(nil)
		s.metrics.Tracking.Set(0)
		if closed != nil {
			s.log.Debug().
				Str("category", closed.Category).
				Dur("length", closed.Duration()).
				Msg("went idle")
			s.enqueueInterval(closed)
		}

	case window.SignalResume:
		// Tracking resumes with the next focus event.
		s.log.Debug().Time("at", sig.Time).Msg("resumed from idle")
	}
}

// handleFlush splits the open interval at the tick time and requests a
// checkpoint. The checkpoint message follows the split interval through
// the queue, so the checkpoint always covers it.
func (s *Service) handleFlush(at time.Time) {
	closed, err := s.tracker.Flush(at)
	if err != nil {
		s.log.Warn().Err(err).Msg("flush skipped")
		return
	}
	if closed != nil {
		s.enqueueInterval(closed)
		s.open.Store(s.tracker.Open())
	}
	s.enqueue(foldMsg{checkpoint: true})
}

func (s *Service) rejectEvent(at time.Time, open *Interval, err error) {
	s.metrics.EventsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()

	rej := &models.RejectedEvent{
		EventAt: at.UTC(),
		Reason:  err.Error(),
	}
	if open != nil {
		rej.OpenStart = open.Start
		rej.Category = open.Category
	}
	s.log.Warn().Time("event_at", at.UTC()).Err(err).Msg("rejected event")
	s.enqueue(foldMsg{rejection: rej})
}

func (s *Service) enqueueInterval(iv *Interval) {
	s.metrics.IntervalsClosed.Inc()
	s.enqueue(foldMsg{interval: iv})
}

// enqueue blocks while the fold queue is full, applying backpressure to
// ingestion instead of dropping history.
func (s *Service) enqueue(msg foldMsg) {
	s.foldQ <- msg
	s.metrics.QueueDepth.Set(float64(len(s.foldQ)))
}

func (s *Service) requestFlush() {
	select {
	case s.flushChan <- time.Now():
	default:
	}
}

func (s *Service) requestPrune(span time.Duration) {
	select {
	case s.pruneChan <- time.Now().Add(-span):
	default:
	}
}

func (s *Service) foldWorker() {
	defer s.wg.Done()

	lastCkpt := s.persisted
	for msg := range s.foldQ {
		s.metrics.QueueDepth.Set(float64(len(s.foldQ)))

		switch {
		case msg.interval != nil:
			if err := s.foldInterval(msg.interval); err != nil {
				s.fail(err)
				return
			}

		case msg.rejection != nil:
			if err := s.repo.RecordRejection(msg.rejection); err != nil {
				s.log.Error().Err(err).Msg("failed to record rejected event")
			}

		case msg.checkpoint:
			if err := s.writeCheckpoint(&lastCkpt); err != nil {
				s.fail(err)
				return
			}

		case !msg.pruneBefore.IsZero():
			n, err := s.repo.PruneIntervals(msg.pruneBefore)
			if err != nil {
				s.log.Error().Err(err).Msg("retention prune failed")
			} else if n > 0 {
				s.log.Info().Int64("pruned", n).Time("before", msg.pruneBefore).Msg("pruned folded intervals")
			}
		}
	}
}

func (s *Service) foldInterval(iv *Interval) error {
	rec := &models.Interval{
		IntervalID: iv.ID.String(),
		Category:   iv.Category,
		StartAt:    iv.Start,
		EndAt:      iv.End,
	}
	if err := s.writeWithRetry("append", func() error { return s.repo.AppendInterval(rec) }); err != nil {
		return err
	}

	s.table.Apply(aggregate.Fold(iv.Category, iv.Start, iv.End, s.table.Width()))
	if rec.Seq > s.cursor.Load() {
		s.cursor.Store(rec.Seq)
	}
	s.metrics.IntervalsFolded.Inc()

	s.log.Debug().
		Str("category", iv.Category).
		Time("start", iv.Start).
		Time("end", iv.End).
		Uint64("seq", rec.Seq).
		Msg("interval folded")
	return nil
}

// writeCheckpoint persists dirty cells and the cursor in one
// transaction. A no-op when nothing changed since the last one.
func (s *Service) writeCheckpoint(lastCkpt *uint64) error {
	cursor := s.cursor.Load()
	dirty := s.table.DirtyBuckets()
	if len(dirty) == 0 && cursor == *lastCkpt {
		return nil
	}

	start := time.Now()
	rows := make([]models.Bucket, len(dirty))
	for i, b := range dirty {
		rows[i] = models.Bucket{
			SlotStart:  b.Slot,
			Category:   b.Category,
			DurationNS: int64(b.Duration),
		}
	}
	if err := s.writeWithRetry("checkpoint", func() error { return s.repo.FlushBuckets(rows, cursor) }); err != nil {
		return err
	}
	s.table.MarkClean(dirty)
	*lastCkpt = cursor

	s.metrics.CheckpointsTotal.Inc()
	s.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	s.log.Debug().Int("buckets", len(rows)).Uint64("cursor", cursor).Msg("checkpoint written")
	return nil
}

// writeWithRetry retries a store write with a fixed backoff. Running
// out of attempts is fatal for the engine.
func (s *Service) writeWithRetry(op string, fn func() error) error {
	attempts := s.config.Tracker.AppendRetries + 1
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			s.metrics.WriteRetries.Inc()
			time.Sleep(s.config.Tracker.RetryBackoff)
		}
		if err = fn(); err == nil {
			return nil
		}
		s.log.Warn().Err(err).Int("attempt", i+1).Str("op", op).Msg("store write failed")
	}
	return errors.Wrapf(err, "%s failed after %d attempts", op, attempts)
}

// fail records a fatal store error, stops the engine and keeps draining
// the queue so the ingestion loop can exit.
func (s *Service) fail(err error) {
	s.failErr = err
	s.log.Error().Err(err).Msg("persistence failure, stopping tracker")
	s.Stop()
	for range s.foldQ {
	}
}

// shutdown closes the open interval, writes a final checkpoint and
// waits for the fold worker to drain.
func (s *Service) shutdown() {
	<-s.cron.Stop().Done()

	if err := s.source.Close(); err != nil {
		s.log.Warn().Err(err).Msg("window source close failed")
	}

	if closed, err := s.tracker.OnIdle(time.Now()); err == nil && closed != nil {
		s.enqueueInterval(closed)
	}
	s.open.Store(nil)
	s.metrics.Tracking.Set(0)

	s.enqueue(foldMsg{checkpoint: true})
	close(s.foldQ)
	s.wg.Wait()

	s.log.Info().Uint64("cursor", s.cursor.Load()).Msg("tracker stopped")
}
