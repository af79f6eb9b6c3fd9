// Package scheduler drives the indexing jobs: a daily full reindex, an
// incremental pass at a fixed interval, and an optional hourly light pass.
//
// A job never runs concurrently with itself. When a trigger fires while the
// previous run is still going, the trigger is skipped and logged, not queued.
// Stopping a job suppresses future triggers only; an in-flight run finishes
// and records its outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chantio/chantio/internal/config"
	"github.com/chantio/chantio/internal/indexer"
)

// Job names.
const (
	JobFull        = "full"
	JobIncremental = "incremental"
	JobHourly      = "hourly"
)

var (
	// ErrUnknownJob is returned for a job name the scheduler does not know.
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyRunning is returned by RunNow when the job is mid-run.
	ErrAlreadyRunning = errors.New("job already running")

	// ErrAlreadyStarted is returned when starting a job twice.
	ErrAlreadyStarted = errors.New("job already started")
)

// Indexer is the slice of the indexing pipeline the scheduler drives.
type Indexer interface {
	IndexAll(ctx context.Context) (indexer.Result, error)
	IndexChangedSince(ctx context.Context, t time.Time) (indexer.Result, error)
}

// RunInfo records the outcome of a job's most recent run.
type RunInfo struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"` // succeeded or failed
	Message    string    `json:"message,omitempty"`
	Indexed    int       `json:"indexed"`
	Failed     int       `json:"failed"`
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Started  bool      `json:"started"`
	Running  bool      `json:"running"`
	NextRun  time.Time `json:"nextRun,omitzero"`
	LastRun  *RunInfo  `json:"lastRun,omitempty"`
}

type job struct {
	name      string
	schedule  string
	isRunning bool
	started   bool
	cancel    context.CancelFunc
	nextRun   time.Time
	lastRun   *RunInfo

	// since is the watermark for change-driven jobs. Advanced to the start
	// of each successful run so records changed mid-run are picked up again.
	since time.Time
}

// Scheduler owns the three indexing jobs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	wg      sync.WaitGroup
	indexer Indexer
	cfg     config.Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Scheduler with no job started.
func New(idx Indexer, cfg config.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*job),
		indexer: idx,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// StartDefaults starts the daily full and incremental jobs from the config,
// plus the hourly pass when enabled.
func (s *Scheduler) StartDefaults() error {
	if err := s.StartDailyFull(s.cfg.FullReindexAt); err != nil {
		return err
	}
	if err := s.StartIncremental(s.cfg.IncrementalEvery); err != nil {
		return err
	}
	if s.cfg.HourlyPass {
		return s.StartHourly()
	}
	return nil
}

// StartDailyFull schedules a full reindex every day at the given local time
// ("HH:MM").
func (s *Scheduler) StartDailyFull(at string) error {
	hour, minute, err := config.ParseTimeOfDay(at)
	if err != nil {
		return fmt.Errorf("daily full schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.registerLocked(JobFull, "daily at "+at)
	if err != nil {
		return err
	}
	ctx := s.jobContextLocked(j)
	j.nextRun = nextDaily(s.now(), hour, minute)

	s.wg.Add(1)
	go s.dailyLoop(ctx, j, hour, minute)
	s.logger.Info("job started", "job", JobFull, "next_run", j.nextRun)
	return nil
}

// StartIncremental schedules an incremental reindex at a fixed interval.
// Each run re-embeds records changed since the job's previous successful run.
func (s *Scheduler) StartIncremental(every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("incremental interval must be positive, got %s", every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.registerLocked(JobIncremental, "every "+every.String())
	if err != nil {
		return err
	}
	ctx := s.jobContextLocked(j)
	j.since = s.now()
	j.nextRun = s.now().Add(every)

	s.wg.Add(1)
	go s.intervalLoop(ctx, j, every)
	s.logger.Info("job started", "job", JobIncremental, "interval", every)
	return nil
}

// StartHourly schedules the hourly light pass, an incremental run with its
// own change watermark.
func (s *Scheduler) StartHourly() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.registerLocked(JobHourly, "every hour")
	if err != nil {
		return err
	}
	ctx := s.jobContextLocked(j)
	j.since = s.now()
	j.nextRun = s.now().Add(time.Hour)

	s.wg.Add(1)
	go s.intervalLoop(ctx, j, time.Hour)
	s.logger.Info("job started", "job", JobHourly)
	return nil
}

// Stop suppresses future triggers of one job. An in-flight run finishes and
// records its outcome.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok || !j.started {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	j.cancel()
	j.started = false
	j.nextRun = time.Time{}
	s.logger.Info("job stopped", "job", name)
	return nil
}

// StopAll stops every started job.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.started {
			j.cancel()
			j.started = false
			j.nextRun = time.Time{}
		}
	}
	s.logger.Info("all jobs stopped")
}

// RunNow triggers a job immediately, outside its schedule. Returns the run ID,
// or ErrAlreadyRunning when the job is mid-run. The job does not need to be
// started. The run executes in the background.
func (s *Scheduler) RunNow(name string) (string, error) {
	if name != JobFull && name != JobIncremental && name != JobHourly {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		j = &job{name: name, schedule: "manual", since: s.now()}
		s.jobs[name] = j
	}
	if j.isRunning {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	runID := uuid.NewString()
	s.beginRunLocked(j, runID)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j, runID)
	}()
	return runID, nil
}

// Status reports all known jobs, started or not, in stable order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, 3)
	for _, name := range []string{JobFull, JobIncremental, JobHourly} {
		j, ok := s.jobs[name]
		if !ok {
			continue
		}
		st := JobStatus{
			Name:     j.name,
			Schedule: j.schedule,
			Started:  j.started,
			Running:  j.isRunning,
			NextRun:  j.nextRun,
		}
		if j.lastRun != nil {
			cp := *j.lastRun
			st.LastRun = &cp
		}
		out = append(out, st)
	}
	return out
}

// Wait blocks until every trigger loop and in-flight run has returned. Call
// after StopAll during shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) registerLocked(name, schedule string) (*job, error) {
	j, ok := s.jobs[name]
	if !ok {
		j = &job{name: name}
		s.jobs[name] = j
	}
	if j.started {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, name)
	}
	j.schedule = schedule
	j.started = true
	return j, nil
}

func (s *Scheduler) jobContextLocked(j *job) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	return ctx
}

func (s *Scheduler) dailyLoop(ctx context.Context, j *job, hour, minute int) {
	defer s.wg.Done()
	for {
		next := nextDaily(s.now(), hour, minute)
		s.setNextRun(j, next)

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.trigger(j)
		}
	}
}

func (s *Scheduler) intervalLoop(ctx context.Context, j *job, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.setNextRun(j, s.now().Add(every))
			s.trigger(j)
		}
	}
}

func (s *Scheduler) setNextRun(j *job, t time.Time) {
	s.mu.Lock()
	if j.started {
		j.nextRun = t
	}
	s.mu.Unlock()
}

// trigger runs the job inline in the loop goroutine. Skips when a previous
// run is still in flight.
func (s *Scheduler) trigger(j *job) {
	s.mu.Lock()
	if j.isRunning {
		s.mu.Unlock()
		s.logger.Warn("skipping trigger, previous run still in flight", "job", j.name)
		return
	}
	runID := uuid.NewString()
	s.beginRunLocked(j, runID)
	s.mu.Unlock()

	s.execute(j, runID)
}

func (s *Scheduler) beginRunLocked(j *job, runID string) {
	j.isRunning = true
	j.lastRun = &RunInfo{ID: runID, StartedAt: s.now(), Status: "running"}
}

// execute performs the actual indexing run and records its outcome. Run
// failures are caught per job; one job failing never disturbs the others.
func (s *Scheduler) execute(j *job, runID string) {
	started := s.now()
	logger := s.logger.With("job", j.name, "run_id", runID)
	logger.Info("run started")

	var res indexer.Result
	var err error
	switch j.name {
	case JobFull:
		res, err = s.indexer.IndexAll(context.Background())
	default:
		s.mu.Lock()
		since := j.since
		s.mu.Unlock()
		res, err = s.indexer.IndexChangedSince(context.Background(), since)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j.isRunning = false
	info := &RunInfo{
		ID:         runID,
		StartedAt:  started,
		FinishedAt: s.now(),
		Indexed:    res.Indexed,
		Failed:     res.Failed,
	}
	if err != nil {
		info.Status = "failed"
		info.Message = err.Error()
		j.lastRun = info
		logger.Error("run failed", "error", err)
		return
	}
	info.Status = "succeeded"
	j.lastRun = info
	if j.name != JobFull {
		j.since = started
	}
	logger.Info("run finished", "indexed", res.Indexed, "failed", res.Failed,
		"duration", info.FinishedAt.Sub(started))
}

// nextDaily returns the next occurrence of hour:minute strictly after now.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
