package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/notify"
	"github.com/local/notesync/internal/pageasset"
	"github.com/local/notesync/internal/scoring"
	"github.com/local/notesync/internal/store"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fakePages struct {
	mu    sync.Mutex
	pages map[string]int
	fail  map[string]error
}

func (f *fakePages) Rasterize(_ context.Context, doc pageasset.Document) ([]pageasset.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[doc.ID]; err != nil {
		return nil, &pageasset.RasterizationFailure{DocumentID: doc.ID, Err: err}
	}
	n, ok := f.pages[doc.ID]
	if !ok {
		n = 2
	}
	refs := make([]pageasset.Ref, n)
	for i := range refs {
		refs[i] = pageasset.Ref{DocumentID: doc.ID, Page: i + 1, Key: fmt.Sprintf("%s/%d", doc.ID, i+1)}
	}
	return refs, nil
}

func (f *fakePages) Images(_ context.Context, refs []pageasset.Ref) ([][]byte, error) {
	out := make([][]byte, len(refs))
	for i, r := range refs {
		out[i] = []byte(r.Key)
	}
	return out, nil
}

type fakeScorer struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, doc string, pages []scoring.PageImage) ([]scoring.PageScore, error)
}

func (f *fakeScorer) ScorePages(ctx context.Context, pages []scoring.PageImage) ([]scoring.PageScore, error) {
	doc := strings.SplitN(string(pages[0].Data), "/", 2)[0]
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[doc]++
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, doc, pages)
	}
	return uniform(pages, 8, 9, 8.5), nil
}

func (f *fakeScorer) count(doc string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[doc]
}

func uniform(pages []scoring.PageImage, r, c, o float64) []scoring.PageScore {
	out := make([]scoring.PageScore, len(pages))
	for i, p := range pages {
		out[i] = page(p.Page, r, c, o)
		out[i].Feedback = "keep it up"
	}
	return out
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *captureNotifier) Enqueue(_ context.Context, n notify.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

type memRuns struct {
	mu   sync.Mutex
	last map[string]store.RunStatus
}

func (m *memRuns) Set(_ context.Context, courseID string, week int, st store.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = map[string]store.RunStatus{}
	}
	m.last[fmt.Sprintf("%s:%d", courseID, week)] = st
	return nil
}

type harness struct {
	repo     *directory.Repository
	pages    *fakePages
	scorer   *fakeScorer
	notifier *captureNotifier
	runs     *memRuns
	locker   *LocalLocker
	sched    *Scheduler
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db, err := directory.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	h := &harness{
		repo:     directory.NewRepository(db),
		pages:    &fakePages{pages: map[string]int{}, fail: map[string]error{}},
		scorer:   &fakeScorer{},
		notifier: &captureNotifier{},
		runs:     &memRuns{},
		locker:   NewLocalLocker(),
	}
	h.sched = New(Dependencies{
		Directory: h.repo,
		Pages:     h.pages,
		Scorer:    h.scorer,
		Notifier:  h.notifier,
		Locker:    h.locker,
		Runs:      h.runs,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return now },
	}, opts)
	return h
}

func (h *harness) week(t *testing.T, course string, week int, deadline *time.Time) {
	t.Helper()
	require.NoError(t, h.repo.SetWeekDeadline(context.Background(), course, week, deadline))
}

func (h *harness) submit(t *testing.T, id, course string, week int) {
	t.Helper()
	require.NoError(t, h.repo.CreateMaterial(context.Background(), &directory.Material{
		ID: id, CourseID: course, Week: week, UploaderID: "u-" + id, Kind: directory.KindPeer, BlobKey: "students/" + id,
	}))
}

func (h *harness) status(t *testing.T, course string, week int) directory.WeekStatus {
	t.Helper()
	w, err := h.repo.Week(context.Background(), course, week)
	require.NoError(t, err)
	return w.EvaluationStatus
}

func (h *harness) score(t *testing.T, id string) *float64 {
	t.Helper()
	m, err := h.repo.Material(context.Background(), id)
	require.NoError(t, err)
	return m.EvaluationScore
}

func ptr(t time.Time) *time.Time { return &t }

func TestSweepScoresAndCompletesDueWeek(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)
	h.submit(t, "b", "c1", 1)
	h.pages.pages["b"] = 3
	require.NoError(t, h.repo.CreateMaterial(context.Background(), &directory.Material{
		ID: "ref", CourseID: "c1", Week: 1, UploaderID: "prof", Kind: directory.KindReference, BlobKey: "professor/ref",
	}))

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Completed)
	require.Len(t, reports[0].Outcomes, 2)
	for _, o := range reports[0].Outcomes {
		require.Equal(t, KindScored, o.Kind)
		require.Equal(t, 8.5, *o.Score)
	}

	require.Equal(t, directory.WeekCompleted, h.status(t, "c1", 1))
	require.Equal(t, 8.5, *h.score(t, "a"))
	require.Nil(t, h.score(t, "ref"))
	require.Zero(t, h.scorer.count("ref"))

	b, err := h.repo.Material(context.Background(), "b")
	require.NoError(t, err)
	require.True(t, b.EvaluationCompleted)
	require.Equal(t, 3, b.PageCount)
	var sum Summary
	require.NoError(t, json.Unmarshal([]byte(b.EvaluationSummary), &sum))
	require.Equal(t, 3, sum.Pages)
	require.Equal(t, []string{"keep it up"}, sum.Feedback)

	require.Len(t, h.notifier.sent, 2)
	require.Equal(t, "u-a", h.notifier.sent[0].UserID)
	require.Equal(t, directory.NotificationEvaluation, h.notifier.sent[0].Type)
	require.Contains(t, h.notifier.sent[0].Message, "week 1")
	require.Contains(t, h.notifier.sent[0].Message, "8.50")

	run := h.runs.last["c1:1"]
	require.Equal(t, store.RunFinished, run.State)
	require.Equal(t, 2, run.Scored)
	require.True(t, run.Completed)

	// second pass finds nothing due
	reports, err = h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, reports)
	require.Equal(t, 1, h.scorer.count("a"))
	require.Len(t, h.notifier.sent, 2)
}

func TestSweepIgnoresFutureAndMissingDeadlines(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(time.Minute)))
	h.week(t, "c1", 2, nil)
	h.submit(t, "a", "c1", 1)
	h.submit(t, "b", "c1", 2)

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, reports)
	require.Nil(t, h.score(t, "a"))
	require.Nil(t, h.score(t, "b"))
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))
}

func TestSweepDeadlineExactlyNowIsDue(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now))
	h.submit(t, "a", "c1", 1)

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Completed)
}

func TestSweepCompletesWeekWithoutSubmissions(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 4, ptr(now.Add(-time.Hour)))

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Completed)
	require.Empty(t, reports[0].Outcomes)
	require.Equal(t, directory.WeekCompleted, h.status(t, "c1", 4))
	require.Empty(t, h.notifier.sent)
}

func TestZeroPageSubmissionScoresZero(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "empty", "c1", 1)
	h.pages.pages["empty"] = 0

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.True(t, reports[0].Completed)
	require.Equal(t, KindScored, reports[0].Outcomes[0].Kind)
	require.Equal(t, 0.0, *h.score(t, "empty"))
	require.Zero(t, h.scorer.count("empty"))
	require.Len(t, h.notifier.sent, 1)
}

func TestFailureLeavesScoreNullAndBlocksCompletion(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "good", "c1", 1)
	h.submit(t, "bad", "c1", 1)
	h.scorer.fn = func(_ context.Context, doc string, pages []scoring.PageImage) ([]scoring.PageScore, error) {
		if doc == "bad" {
			return nil, fmt.Errorf("decode: %w", scoring.ErrMalformedResponse)
		}
		return uniform(pages, 6, 6, 6), nil
	}

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.False(t, reports[0].Completed)
	kinds := map[string]Kind{}
	for _, o := range reports[0].Outcomes {
		kinds[o.MaterialID] = o.Kind
	}
	require.Equal(t, KindScored, kinds["good"])
	require.Equal(t, KindMalformed, kinds["bad"])
	require.Nil(t, h.score(t, "bad"))
	require.Equal(t, 6.0, *h.score(t, "good"))
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))

	bad, err := h.repo.Material(context.Background(), "bad")
	require.NoError(t, err)
	require.Equal(t, 1, bad.EvaluationAttempts)
	require.Equal(t, string(KindMalformed), bad.LastEvaluationError)

	// backend recovers; next sweep scores only the missing one
	h.scorer.fn = nil
	reports, err = h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.True(t, reports[0].Completed)
	require.Equal(t, 1, h.scorer.count("good"))
	require.Equal(t, 2, h.scorer.count("bad"))
	require.Equal(t, 8.5, *h.score(t, "bad"))
	require.Equal(t, directory.WeekCompleted, h.status(t, "c1", 1))
}

func TestTypedOutcomes(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{&scoring.HTTPError{Provider: "openai", StatusCode: 503}, KindUnavailable},
		{&scoring.HTTPError{Provider: "openai", StatusCode: 429}, KindRateLimited},
		{&scoring.HTTPError{Provider: "openai", StatusCode: 400}, KindRejected},
		{scoring.ErrMalformedResponse, KindMalformed},
		{errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(string(tc.want), func(t *testing.T) {
			h := newHarness(t, Options{})
			h.submit(t, "a", "c1", 1)
			h.scorer.fn = func(context.Context, string, []scoring.PageImage) ([]scoring.PageScore, error) {
				return nil, tc.err
			}
			rep, err := h.sched.EvaluateNow(context.Background(), "c1", 1)
			require.NoError(t, err)
			require.Len(t, rep.Outcomes, 1)
			require.Equal(t, tc.want, rep.Outcomes[0].Kind)
			require.Error(t, rep.Outcomes[0].Err)
			require.True(t, rep.Outcomes[0].Failed())
		})
	}
}

func TestScoringTimeout(t *testing.T) {
	h := newHarness(t, Options{ScoreTimeout: 20 * time.Millisecond})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "slow", "c1", 1)
	h.submit(t, "fast", "c1", 1)
	h.scorer.fn = func(ctx context.Context, doc string, pages []scoring.PageImage) ([]scoring.PageScore, error) {
		if doc == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return uniform(pages, 7, 7, 7), nil
	}

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	kinds := map[string]Kind{}
	for _, o := range reports[0].Outcomes {
		kinds[o.MaterialID] = o.Kind
	}
	require.Equal(t, KindTimeout, kinds["slow"])
	require.Equal(t, KindScored, kinds["fast"])
	require.Nil(t, h.score(t, "slow"))
	require.False(t, reports[0].Completed)
}

func TestRasterizationFailureIsTyped(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "corrupt", "c1", 1)
	h.pages.fail["corrupt"] = errors.New("not a pdf")

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindRasterization, reports[0].Outcomes[0].Kind)
	require.Zero(t, h.scorer.count("corrupt"))
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))
}

func TestMaxAttemptsAbandonsAndUnblocksWeek(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 2})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "bad", "c1", 1)
	h.scorer.fn = func(context.Context, string, []scoring.PageImage) ([]scoring.PageScore, error) {
		return nil, scoring.ErrUnavailable
	}

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.False(t, reports[0].Completed)
	require.Equal(t, 1, reports[0].Outcomes[0].Attempts)
	require.False(t, reports[0].Outcomes[0].Abandoned)

	reports, err = h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.True(t, reports[0].Outcomes[0].Abandoned)
	require.True(t, reports[0].Completed)
	require.Equal(t, directory.WeekCompleted, h.status(t, "c1", 1))
	require.Nil(t, h.score(t, "bad"))
	require.Equal(t, 2, h.scorer.count("bad"))
}

func TestUnlimitedAttemptsNeverAbandon(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "bad", "c1", 1)
	h.scorer.fn = func(context.Context, string, []scoring.PageImage) ([]scoring.PageScore, error) {
		return nil, scoring.ErrUnavailable
	}
	for i := 0; i < 4; i++ {
		reports, err := h.sched.SweepOnce(context.Background())
		require.NoError(t, err)
		require.False(t, reports[0].Completed)
		require.False(t, reports[0].Outcomes[0].Abandoned)
	}
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))
}

func TestEvaluateNowBypassesDeadlineButNotCompletion(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(24*time.Hour)))
	h.submit(t, "a", "c1", 1)
	h.submit(t, "b", "c1", 3)

	rep, err := h.sched.EvaluateNow(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Equal(t, KindScored, rep.Outcomes[0].Kind)
	require.False(t, rep.Completed)
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))
	require.NotNil(t, h.score(t, "a"))

	// week 3 has no deadline row at all
	rep, err = h.sched.EvaluateNow(context.Background(), "c1", 3)
	require.NoError(t, err)
	require.Equal(t, KindScored, rep.Outcomes[0].Kind)
	require.False(t, rep.Completed)

	// already scored submissions are skipped on a repeat trigger
	rep, err = h.sched.EvaluateNow(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Equal(t, KindSkipped, rep.Outcomes[0].Kind)
	require.Equal(t, 1, h.scorer.count("a"))
	require.Equal(t, TriggerManual, h.runs.last["c1:1"].Trigger)
}

func TestEvaluateNowOnCompletedWeekIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)
	_, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)

	rep, err := h.sched.EvaluateNow(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.True(t, rep.Completed)
	require.Equal(t, KindSkipped, rep.Outcomes[0].Kind)
	require.Equal(t, directory.WeekCompleted, h.status(t, "c1", 1))
	require.Len(t, h.notifier.sent, 1)
}

func TestBusyWeek(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)

	lease, ok, err := h.locker.TryLock(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.sched.EvaluateNow(context.Background(), "c1", 1)
	require.ErrorIs(t, err, ErrWeekBusy)

	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Busy)
	require.Zero(t, h.scorer.count("a"))

	lease.Release()
	reports, err = h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.True(t, reports[0].Completed)
}

func TestOverlappingRunsScoreEachSubmissionOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.scorer.fn = func(_ context.Context, _ string, pages []scoring.PageImage) ([]scoring.PageScore, error) {
		close(entered)
		<-unblock
		return uniform(pages, 5, 5, 5), nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.sched.EvaluateNow(context.Background(), "c1", 1)
		errc <- err
	}()
	<-entered

	_, err := h.sched.EvaluateNow(context.Background(), "c1", 1)
	require.ErrorIs(t, err, ErrWeekBusy)
	reports, err := h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.True(t, reports[0].Busy)

	close(unblock)
	require.NoError(t, <-errc)
	require.Equal(t, 1, h.scorer.count("a"))
	require.Len(t, h.notifier.sent, 1)
}

func TestLostScoreRaceDoesNotNotify(t *testing.T) {
	h := newHarness(t, Options{})
	h.submit(t, "a", "c1", 1)
	h.scorer.fn = func(_ context.Context, _ string, pages []scoring.PageImage) ([]scoring.PageScore, error) {
		// another writer lands first
		_, err := h.repo.SetScoreIfNull(context.Background(), "a", 1.0, "")
		require.NoError(t, err)
		return uniform(pages, 9, 9, 9), nil
	}

	rep, err := h.sched.EvaluateNow(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Equal(t, KindAlreadyScored, rep.Outcomes[0].Kind)
	require.Equal(t, 1.0, *h.score(t, "a"))
	require.Empty(t, h.notifier.sent)
}

func TestCancelledSweepStopsWithoutRecordingFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)
	h.submit(t, "b", "c1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	h.scorer.fn = func(ctx context.Context, _ string, _ []scoring.PageImage) ([]scoring.PageScore, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := h.sched.SweepOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	a, err := h.repo.Material(context.Background(), "a")
	require.NoError(t, err)
	require.Nil(t, a.EvaluationScore)
	require.Zero(t, a.EvaluationAttempts)
	require.Equal(t, 1, h.scorer.count("a")+h.scorer.count("b"))
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Hour})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)

	require.NoError(t, h.sched.Start(context.Background()))
	require.ErrorIs(t, h.sched.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		w, err := h.repo.Week(context.Background(), "c1", 1)
		return err == nil && w.EvaluationStatus == directory.WeekCompleted
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(ctx))
	require.NoError(t, h.sched.Stop(ctx))

	// restartable after stop
	require.NoError(t, h.sched.Start(context.Background()))
	require.NoError(t, h.sched.Stop(ctx))
}

// fadingLocker hands out leases that stay held for a fixed number of checks.
type fadingLocker struct {
	checks int
}

type fadingLease struct {
	mu   sync.Mutex
	left int
}

func (f *fadingLocker) TryLock(context.Context, string, int) (store.Lease, bool, error) {
	return &fadingLease{left: f.checks}, true, nil
}

func (l *fadingLease) Held(context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.left--
	return l.left >= 0
}

func (l *fadingLease) Release() {}

func (h *harness) schedulerWith(locker Locker) *Scheduler {
	return New(Dependencies{
		Directory: h.repo,
		Pages:     h.pages,
		Scorer:    h.scorer,
		Notifier:  h.notifier,
		Locker:    locker,
		Runs:      h.runs,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return now },
	}, Options{})
}

func TestLostLeaseStopsBatch(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)
	h.submit(t, "b", "c1", 1)
	sched := h.schedulerWith(&fadingLocker{checks: 1})

	_, err := sched.EvaluateNow(context.Background(), "c1", 1)
	require.ErrorIs(t, err, ErrLeaseLost)

	require.Equal(t, 1, h.scorer.count("a")+h.scorer.count("b"), "no scoring after the lease is gone")
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))
	require.Equal(t, store.RunFailed, h.runs.last["c1:1"].State)
}

func TestLostLeaseBlocksCompletion(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)
	sched := h.schedulerWith(&fadingLocker{checks: 1})

	reports, err := sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, reports)

	require.NotNil(t, h.score(t, "a"))
	require.Equal(t, directory.WeekPending, h.status(t, "c1", 1))

	// the next pass under a healthy lock finishes the week without rescoring
	reports, err = h.sched.SweepOnce(context.Background())
	require.NoError(t, err)
	require.True(t, reports[0].Completed)
	require.Equal(t, 1, h.scorer.count("a"))
}

type pageCountFailing struct {
	*directory.Repository
}

func (pageCountFailing) RecordPageCount(context.Context, string, int) error {
	return errors.New("disk full")
}

func TestPageCountWarningCarriesWeekFields(t *testing.T) {
	h := newHarness(t, Options{})
	h.week(t, "c1", 1, ptr(now.Add(-time.Hour)))
	h.submit(t, "a", "c1", 1)

	var buf bytes.Buffer
	sched := New(Dependencies{
		Directory: pageCountFailing{h.repo},
		Pages:     h.pages,
		Scorer:    h.scorer,
		Locker:    NewLocalLocker(),
		Logger:    zerolog.New(&buf),
		Now:       func() time.Time { return now },
	}, Options{})

	rep, err := sched.EvaluateNow(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Equal(t, KindScored, rep.Outcomes[0].Kind)

	var warning map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "failed to record page count" {
			warning = entry
		}
	}
	require.NotNil(t, warning)
	require.Equal(t, "c1", warning["course_id"])
	require.EqualValues(t, 1, warning["week"])
	require.Equal(t, TriggerManual, warning["trigger"])
	require.Equal(t, "a", warning["material_id"])
}
