// Package evaluation scores peer submissions once a week's upload deadline has
// passed and marks the week completed when every submission is resolved.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/metrics"
	"github.com/local/notesync/internal/notify"
	"github.com/local/notesync/internal/pageasset"
	"github.com/local/notesync/internal/scoring"
	"github.com/local/notesync/internal/store"
)

var (
	// ErrWeekBusy means another run holds the week.
	ErrWeekBusy = errors.New("week evaluation already in progress")
	// ErrLeaseLost means the week lock expired or was taken over mid-run.
	ErrLeaseLost = errors.New("week lock lost")
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

const (
	TriggerSweep  = "sweep"
	TriggerManual = "manual"
)

// Directory is the slice of the relational store the scheduler needs.
type Directory interface {
	DueWeeks(ctx context.Context, now time.Time) ([]directory.CourseWeek, error)
	Week(ctx context.Context, courseID string, week int) (*directory.CourseWeek, error)
	ListPeerMaterials(ctx context.Context, courseID string, week int) ([]directory.Material, error)
	RecordPageCount(ctx context.Context, id string, pages int) error
	SetScoreIfNull(ctx context.Context, id string, score float64, summary string) (bool, error)
	RecordEvaluationFailure(ctx context.Context, id, reason string) (int, error)
	MarkAbandoned(ctx context.Context, id string) error
	UnresolvedPeerCount(ctx context.Context, courseID string, week int) (int64, error)
	MarkWeekCompleted(ctx context.Context, courseID string, week int) (bool, error)
}

// Pages yields the rendered pages of a submission.
type Pages interface {
	Rasterize(ctx context.Context, doc pageasset.Document) ([]pageasset.Ref, error)
	Images(ctx context.Context, refs []pageasset.Ref) ([][]byte, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification)
}

// RunRecorder keeps the latest run per week for display.
type RunRecorder interface {
	Set(ctx context.Context, courseID string, week int, st store.RunStatus) error
}

type Dependencies struct {
	Directory Directory
	Pages     Pages
	Scorer    scoring.Scorer
	Notifier  Notifier
	Locker    Locker
	Runs      RunRecorder
	Logger    zerolog.Logger
	Now       func() time.Time
}

type Options struct {
	Interval      time.Duration
	ScoreTimeout  time.Duration
	MaxAttempts   int
	FeedbackLimit int
}

// WeekReport describes one run over one (course, week).
type WeekReport struct {
	CourseID  string    `json:"course_id"`
	Week      int       `json:"week"`
	Trigger   string    `json:"trigger"`
	Outcomes  []Outcome `json:"outcomes"`
	Completed bool      `json:"completed"`
	Busy      bool      `json:"busy,omitempty"`
}

// Counts tallies outcomes into scored, failed and skipped.
func (r *WeekReport) Counts() (scored, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Kind == KindScored:
			scored++
		case o.Failed():
			failed++
		default:
			skipped++
		}
	}
	return scored, failed, skipped
}

type Scheduler struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(deps Dependencies, opts Options) *Scheduler {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.ScoreTimeout <= 0 {
		opts.ScoreTimeout = 120 * time.Second
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.FeedbackLimit <= 0 {
		opts.FeedbackLimit = DefaultFeedbackLimit
	}
	return &Scheduler{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With().Str("component", "evaluation").Logger(),
		tracer: otel.Tracer("github.com/local/notesync/internal/evaluation"),
	}
}

// Start runs a sweep immediately and then every Interval until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(loopCtx, s.done)
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("evaluation scheduler started")
	return nil
}

// Stop cancels the loop and waits for the in-flight sweep to unwind or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		s.logger.Info().Msg("evaluation scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("evaluation sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce evaluates every pending week whose deadline has passed. Weeks held
// by another run are reported busy and left for the next pass.
func (s *Scheduler) SweepOnce(ctx context.Context) ([]WeekReport, error) {
	metrics.IncRun(TriggerSweep)
	now := s.deps.Now()
	weeks, err := s.deps.Directory.DueWeeks(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due weeks: %w", err)
	}
	s.logger.Debug().Int("weeks", len(weeks)).Time("now", now).Msg("evaluation sweep")

	reports := make([]WeekReport, 0, len(weeks))
	for _, w := range weeks {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := s.runWeek(ctx, w.CourseID, w.Week, TriggerSweep)
		if errors.Is(err, ErrWeekBusy) {
			s.logger.Info().Str("course_id", w.CourseID).Int("week", w.Week).Msg("week busy, skipping this pass")
			reports = append(reports, WeekReport{CourseID: w.CourseID, Week: w.Week, Trigger: TriggerSweep, Busy: true})
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			s.logger.Error().Err(err).Str("course_id", w.CourseID).Int("week", w.Week).Msg("week evaluation failed")
			continue
		}
		reports = append(reports, *rep)
	}
	return reports, nil
}

// EvaluateNow scores one week's unscored submissions regardless of its deadline.
// The week is only marked completed once its deadline has passed.
func (s *Scheduler) EvaluateNow(ctx context.Context, courseID string, week int) (*WeekReport, error) {
	metrics.IncRun(TriggerManual)
	return s.runWeek(ctx, courseID, week, TriggerManual)
}

func (s *Scheduler) runWeek(ctx context.Context, courseID string, week int, trigger string) (*WeekReport, error) {
	lease, ok, err := s.deps.Locker.TryLock(ctx, courseID, week)
	if err != nil {
		return nil, fmt.Errorf("lock week: %w", err)
	}
	if !ok {
		return nil, ErrWeekBusy
	}
	defer lease.Release()

	ctx, span := s.tracer.Start(ctx, "evaluation.week", trace.WithAttributes(
		attribute.String("course_id", courseID),
		attribute.Int("week", week),
		attribute.String("trigger", trigger),
	))
	defer span.End()

	log := s.logger.With().Str("course_id", courseID).Int("week", week).Str("trigger", trigger).Logger()
	start := s.deps.Now()
	s.recordRun(ctx, courseID, week, store.RunStatus{Trigger: trigger, State: store.RunRunning, Start: &start})

	rep, err := s.evaluateWeek(ctx, log, lease, courseID, week, trigger)
	end := s.deps.Now()
	if err != nil {
		s.recordRun(ctx, courseID, week, store.RunStatus{Trigger: trigger, State: store.RunFailed, Message: err.Error(), Start: &start, End: &end})
		span.RecordError(err)
		return nil, err
	}
	scored, failed, skipped := rep.Counts()
	s.recordRun(ctx, courseID, week, store.RunStatus{
		Trigger: trigger, State: store.RunFinished,
		Scored: scored, Failed: failed, Skipped: skipped,
		Completed: rep.Completed, Start: &start, End: &end,
	})
	span.SetAttributes(attribute.Int("scored", scored), attribute.Int("failed", failed), attribute.Bool("completed", rep.Completed))
	log.Info().
		Int("scored", scored).
		Int("failed", failed).
		Int("skipped", skipped).
		Bool("completed", rep.Completed).
		Dur("duration", end.Sub(start)).
		Msg("week evaluation finished")
	return rep, nil
}

func (s *Scheduler) evaluateWeek(ctx context.Context, log zerolog.Logger, lease store.Lease, courseID string, week int, trigger string) (*WeekReport, error) {
	rep := &WeekReport{CourseID: courseID, Week: week, Trigger: trigger, Outcomes: []Outcome{}}

	w, err := s.deps.Directory.Week(ctx, courseID, week)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		w = nil
	case err != nil:
		return nil, fmt.Errorf("load week: %w", err)
	}
	if w != nil && w.EvaluationStatus == directory.WeekCompleted && trigger == TriggerSweep {
		// completed by another replica between listing and locking
		rep.Completed = true
		return rep, nil
	}

	subs, err := s.deps.Directory.ListPeerMaterials(ctx, courseID, week)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := &subs[i]
		if m.EvaluationScore != nil {
			rep.Outcomes = append(rep.Outcomes, Outcome{MaterialID: m.ID, UploaderID: m.UploaderID, Kind: KindSkipped, Score: m.EvaluationScore})
			continue
		}
		if m.EvaluationAbandoned && trigger == TriggerSweep {
			rep.Outcomes = append(rep.Outcomes, Outcome{MaterialID: m.ID, UploaderID: m.UploaderID, Kind: KindSkipped, Abandoned: true})
			continue
		}
		if !lease.Held(ctx) {
			return nil, ErrLeaseLost
		}
		out := s.evaluateSubmission(ctx, log, week, m)
		metrics.IncEvaluation(string(out.Kind))
		if out.Kind == KindCanceled {
			return nil, ctx.Err()
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}

	if !s.deadlinePassed(w) {
		return rep, nil
	}
	unresolved, err := s.deps.Directory.UnresolvedPeerCount(ctx, courseID, week)
	if err != nil {
		return nil, fmt.Errorf("count unresolved: %w", err)
	}
	if unresolved > 0 {
		log.Info().Int64("unresolved", unresolved).Msg("week stays pending")
		return rep, nil
	}
	if !lease.Held(ctx) {
		return nil, ErrLeaseLost
	}
	changed, err := s.deps.Directory.MarkWeekCompleted(ctx, courseID, week)
	if err != nil {
		return nil, fmt.Errorf("complete week: %w", err)
	}
	if changed {
		metrics.IncWeekCompleted()
		log.Info().Int("submissions", len(subs)).Msg("week evaluation completed")
	}
	rep.Completed = true
	return rep, nil
}

func (s *Scheduler) deadlinePassed(w *directory.CourseWeek) bool {
	if w == nil || w.UploadDeadline == nil {
		return false
	}
	return !s.deps.Now().Before(*w.UploadDeadline)
}

func (s *Scheduler) evaluateSubmission(ctx context.Context, log zerolog.Logger, week int, m *directory.Material) Outcome {
	out := Outcome{MaterialID: m.ID, UploaderID: m.UploaderID}
	log = log.With().Str("material_id", m.ID).Logger()

	summary, kind, err := s.score(ctx, log, m)
	if err != nil {
		if ctx.Err() != nil {
			out.Kind, out.Err = KindCanceled, ctx.Err()
			return out
		}
		out.Kind, out.Err = kind, err
		s.recordFailure(ctx, log, &out)
		return out
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		out.Kind, out.Err = KindUnknown, err
		return out
	}
	won, err := s.deps.Directory.SetScoreIfNull(ctx, m.ID, summary.Score, string(raw))
	if err != nil {
		out.Kind, out.Err = KindStorage, err
		log.Error().Err(err).Msg("failed to store score")
		return out
	}
	if !won {
		out.Kind = KindAlreadyScored
		log.Info().Msg("score already written by another run")
		return out
	}

	score := summary.Score
	out.Kind, out.Score = KindScored, &score
	log.Info().Float64("score", score).Int("pages", summary.Pages).Msg("submission scored")
	if s.deps.Notifier != nil {
		s.deps.Notifier.Enqueue(ctx, notify.Notification{
			UserID:    m.UploaderID,
			Type:      directory.NotificationEvaluation,
			Message:   notify.EvaluationMessage(week, score),
			RelatedID: m.ID,
		})
	}
	return out
}

func (s *Scheduler) score(ctx context.Context, log zerolog.Logger, m *directory.Material) (Summary, Kind, error) {
	refs, err := s.deps.Pages.Rasterize(ctx, pageasset.Document{ID: m.ID, Key: m.BlobKey})
	if err != nil {
		return Summary{}, kindFromRaster(err), err
	}
	if len(refs) != m.PageCount {
		if err := s.deps.Directory.RecordPageCount(ctx, m.ID, len(refs)); err != nil {
			log.Warn().Err(err).Msg("failed to record page count")
		}
	}
	if len(refs) == 0 {
		return Aggregate(nil, s.opts.FeedbackLimit), "", nil
	}
	images, err := s.deps.Pages.Images(ctx, refs)
	if err != nil {
		return Summary{}, KindStorage, err
	}
	pages := make([]scoring.PageImage, len(images))
	for i, data := range images {
		pages[i] = scoring.PageImage{Page: refs[i].Page, MIME: "image/jpeg", Data: data}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ScoreTimeout)
	defer cancel()
	scores, err := s.deps.Scorer.ScorePages(callCtx, pages)
	if err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			return Summary{}, KindTimeout, fmt.Errorf("%w: %v", scoring.ErrTimeout, err)
		}
		return Summary{}, kindFromScoring(err), err
	}
	return Aggregate(scores, s.opts.FeedbackLimit), "", nil
}

func (s *Scheduler) recordFailure(ctx context.Context, log zerolog.Logger, out *Outcome) {
	log.Warn().Err(out.Err).Str("outcome", string(out.Kind)).Msg("submission evaluation failed, will retry")
	attempts, err := s.deps.Directory.RecordEvaluationFailure(ctx, out.MaterialID, string(out.Kind))
	if err != nil {
		log.Error().Err(err).Msg("failed to record evaluation failure")
		return
	}
	out.Attempts = attempts
	if s.opts.MaxAttempts > 0 && attempts >= s.opts.MaxAttempts {
		if err := s.deps.Directory.MarkAbandoned(ctx, out.MaterialID); err != nil {
			log.Error().Err(err).Msg("failed to abandon submission")
			return
		}
		out.Abandoned = true
		log.Warn().Int("attempts", attempts).Msg("submission abandoned after repeated failures")
	}
}

func (s *Scheduler) recordRun(ctx context.Context, courseID string, week int, st store.RunStatus) {
	if s.deps.Runs == nil {
		return
	}
	// status writes must land even while shutting down
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Runs.Set(rctx, courseID, week, st); err != nil {
		s.logger.Warn().Err(err).Str("course_id", courseID).Int("week", week).Msg("failed to record run status")
	}
}
