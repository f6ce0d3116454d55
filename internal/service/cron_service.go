package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ssl-monitor/internal/conf"
	"ssl-monitor/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService owns the periodic jobs: the check tick and the retention prune.
type CronService struct {
	Cron      *cron.Cron
	Scheduler *CheckScheduler
	Store     repository.Store
	Retention conf.RetentionConfig
	Tick      time.Duration
	EntryIDs  map[string]cron.EntryID

	// one tick at a time; a slow run simply absorbs the following ticks
	running sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewCronService(scheduler *CheckScheduler, store repository.Store, tick time.Duration, retention conf.RetentionConfig) *CronService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronService{
		Cron:      cron.New(),
		Scheduler: scheduler,
		Store:     store,
		Retention: retention,
		Tick:      tick,
		EntryIDs:  make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *CronService) Start() error {
	if err := s.ReloadJobs(); err != nil {
		return err
	}
	s.Cron.Start()
	logrus.Infof("✅ [Cron] started (check tick every %s, retention %q)", s.Tick, s.Retention.Schedule)
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *CronService) Stop() {
	s.cancel()
	<-s.Cron.Stop().Done()
	logrus.Info("[Cron] stopped")
}

// ReloadJobs (re)registers every job.
func (s *CronService) ReloadJobs() error {
	// 1. Clear old entries
	for _, id := range s.EntryIDs {
		s.Cron.Remove(id)
	}
	s.EntryIDs = make(map[string]cron.EntryID)

	// 2. Check tick
	if err := s.registerJob("check", fmt.Sprintf("@every %s", s.Tick), func() { s.PerformChecks(s.ctx) }); err != nil {
		return err
	}

	// 3. Retention
	if s.Retention.Schedule != "" {
		if err := s.registerJob("retention", s.Retention.Schedule, func() { s.PerformCleanup(s.ctx) }); err != nil {
			return err
		}
	}
	return nil
}

// PerformChecks runs the due checks unless the previous tick is still busy.
func (s *CronService) PerformChecks(ctx context.Context) {
	if !s.running.TryLock() {
		logrus.Debug("[Cron] previous check run still busy, skipping tick")
		return
	}
	defer s.running.Unlock()

	if _, err := s.Scheduler.RunDue(ctx); err != nil {
		logrus.Errorf("[Cron] check run failed: %v", err)
	}
}

// PerformCleanup prunes observations older than the retention window, keeping each
// domain's newest one.
func (s *CronService) PerformCleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.Retention.Days)

	removed, err := s.Store.PruneObservations(ctx, cutoff)
	if err != nil {
		logrus.Errorf("[Cron] retention cleanup failed: %v", err)
		return 0, err
	}

	observationsPruned.Add(float64(removed))
	logrus.Infof("🧹 [Cron] removed %d observation(s) older than %s", removed, cutoff.Format("2006-01-02"))
	return removed, nil
}

func (s *CronService) registerJob(name, schedule string, cmd func()) error {
	id, err := s.Cron.AddFunc(schedule, cmd)
	if err != nil {
		return fmt.Errorf("schedule %s job (%q): %w", name, schedule, err)
	}
	s.EntryIDs[name] = id
	logrus.Infof("[Cron] scheduled job [%s]: %s", name, schedule)
	return nil
}
