package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ssl-monitor/internal/conf"
	"ssl-monitor/internal/domain"
	"ssl-monitor/internal/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/semaphore"
)

var (
	ErrCheckCooldown   = errors.New("check requested too soon")
	ErrCheckInProgress = errors.New("check already in progress")
	ErrDomainGone      = errors.New("domain no longer exists")
)

// CooldownError carries how long the caller has to wait before the next manual check.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v, retry in %s", ErrCheckCooldown, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCheckCooldown }

// CheckOutcome is the per-domain result of a check run.
type CheckOutcome struct {
	DomainID     primitive.ObjectID    `json:"domain_id"`
	Domain       string                `json:"domain"`
	Status       domain.Classification `json:"status,omitempty"`
	DaysLeft     *int                  `json:"days_left,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	// Error is set when the check itself did not complete (cooldown, in progress, deleted...).
	Error string `json:"error,omitempty"`

	err error
}

// BulkResult summarises RunDue and CheckAll.
type BulkResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Duration  string         `json:"duration"`
	Results   []CheckOutcome `json:"results"`
}

// CheckScheduler decides when domains are probed and records the results. It bounds
// concurrent probes globally, runs at most one check per domain, retries transient
// failures with exponential backoff and stores exactly one observation per completed check.
type CheckScheduler struct {
	Store    repository.Store
	Prober   Prober
	Trigger  *NotificationTrigger
	Cooldown Cooldown
	Config   conf.SchedulerConfig
	Now      func() time.Time

	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight map[primitive.ObjectID]context.CancelCauseFunc

	// commit locks, striped by domain id
	locks [64]sync.Mutex
}

func NewCheckScheduler(store repository.Store, prober Prober, trigger *NotificationTrigger, cooldown Cooldown, cfg conf.SchedulerConfig) *CheckScheduler {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if cooldown == nil {
		cooldown = NewMemoryCooldown()
	}

	return &CheckScheduler{
		Store:    store,
		Prober:   prober,
		Trigger:  trigger,
		Cooldown: cooldown,
		Config:   cfg,
		Now:      time.Now,
		sem:      semaphore.NewWeighted(int64(workers)),
		inflight: make(map[primitive.ObjectID]context.CancelCauseFunc),
	}
}

// =============================================================================
// Public Methods
// =============================================================================

// DueDomains returns the active domains never checked or last checked at least one
// interval before now.
func (s *CheckScheduler) DueDomains(ctx context.Context, now time.Time) ([]domain.Domain, error) {
	snap, err := s.Store.ActiveSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var due []domain.Domain
	for _, item := range snap {
		if item.Latest == nil || !item.Latest.CheckedAt.Add(s.Config.CheckInterval).After(now) {
			due = append(due, item.Domain)
		}
	}
	return due, nil
}

// RunDue checks every due domain. Used by the periodic tick.
func (s *CheckScheduler) RunDue(ctx context.Context) (BulkResult, error) {
	due, err := s.DueDomains(ctx, s.now())
	if err != nil {
		logrus.Errorf("[Scheduler] failed to list due domains: %v", err)
		return BulkResult{}, err
	}
	if len(due) == 0 {
		return BulkResult{Results: []CheckOutcome{}}, nil
	}

	logrus.Infof("[Scheduler] %d domain(s) due for a check", len(due))
	return s.runBulk(ctx, due, s.check), nil
}

// CheckNow runs a manual check for one of the user's domains, ignoring the interval
// but honouring the per-domain cooldown.
func (s *CheckScheduler) CheckNow(ctx context.Context, userID string, domainID primitive.ObjectID) (CheckOutcome, error) {
	d, err := s.Store.GetDomain(ctx, domainID)
	if err != nil {
		return CheckOutcome{}, err
	}
	if d.UserID != userID {
		return CheckOutcome{}, repository.ErrNotFound
	}
	return s.manualCheck(ctx, *d)
}

// CheckAll triggers a manual check for each of the user's domains. One domain failing
// (cooldown, in progress, probe trouble) never affects the others.
func (s *CheckScheduler) CheckAll(ctx context.Context, userID string) (BulkResult, error) {
	domains, err := s.Store.ListDomains(ctx, userID)
	if err != nil {
		return BulkResult{}, err
	}
	if len(domains) == 0 {
		return BulkResult{Results: []CheckOutcome{}}, nil
	}
	return s.runBulk(ctx, domains, s.manualCheck), nil
}

// Cancel aborts the in-flight check of a domain (including its backoff wait), so its
// result is dropped. Returns false when nothing was running.
func (s *CheckScheduler) Cancel(id primitive.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.inflight[id]
	if ok {
		cancel(ErrDomainGone)
	}
	return ok
}

// WithDomainLock runs fn while no check of the domain can commit its result.
func (s *CheckScheduler) WithDomainLock(id primitive.ObjectID, fn func() error) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// =============================================================================
// Private Logic: Orchestration
// =============================================================================

func (s *CheckScheduler) manualCheck(ctx context.Context, d domain.Domain) (CheckOutcome, error) {
	// 1. Slot first: a request refused as "in progress" leaves the cooldown untouched
	runCtx, done, err := s.begin(ctx, d.ID)
	if err != nil {
		return CheckOutcome{DomainID: d.ID, Domain: d.Name}, err
	}
	defer done()

	// 2. Cooldown (fails open when the backend is down)
	ok, retryAfter, err := s.Cooldown.Acquire(ctx, d.ID.Hex(), s.Config.ManualCooldown)
	if err != nil {
		logrus.Warnf("[Scheduler] cooldown lookup failed for %s: %v", d.Name, err)
	} else if !ok {
		return CheckOutcome{DomainID: d.ID, Domain: d.Name}, &CooldownError{RetryAfter: retryAfter}
	}

	// 3. Check + commit
	return s.run(ctx, runCtx, d)
}

func (s *CheckScheduler) runBulk(ctx context.Context, domains []domain.Domain, run func(context.Context, domain.Domain) (CheckOutcome, error)) BulkResult {
	start := time.Now()
	total := len(domains)
	var processed int32

	p := pool.NewWithResults[CheckOutcome]().WithMaxGoroutines(s.workers())
	for _, d := range domains {
		p.Go(func() CheckOutcome {
			outcome, err := run(ctx, d)
			if err != nil {
				outcome.DomainID = d.ID
				outcome.Domain = d.Name
				outcome.Error = err.Error()
				outcome.err = err
			}

			current := atomic.AddInt32(&processed, 1)
			if current%5 == 0 || int(current) == total {
				logrus.Infof("📊 [Scheduler] progress: %d/%d (%.1f%%)", current, total, float64(current)/float64(total)*100)
			}
			return outcome
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Domain < results[j].Domain })

	res := BulkResult{Total: total, Results: results, Duration: time.Since(start).Round(time.Millisecond).String()}
	for _, o := range results {
		if o.err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}

	logrus.Infof("[Scheduler] run finished: %d ok, %d failed (took %s)", res.Succeeded, res.Failed, res.Duration)
	return res
}

// check is the scheduled path: take the domain's slot, then run.
func (s *CheckScheduler) check(ctx context.Context, d domain.Domain) (CheckOutcome, error) {
	runCtx, done, err := s.begin(ctx, d.ID)
	if err != nil {
		return CheckOutcome{DomainID: d.ID, Domain: d.Name}, err
	}
	defer done()
	return s.run(ctx, runCtx, d)
}

// run checks d and commits the observation. The caller holds the domain's slot and runCtx
// is the slot's cancellable context. Exactly one observation is stored unless the domain
// was deleted meanwhile.
func (s *CheckScheduler) run(ctx, runCtx context.Context, d domain.Domain) (CheckOutcome, error) {
	outcome := CheckOutcome{DomainID: d.ID, Domain: d.Name}

	// 1. Global probe bound
	if err := s.sem.Acquire(runCtx, 1); err != nil {
		return outcome, s.abortCause(runCtx, d)
	}
	obs, err := s.probe(runCtx, d.Name)
	s.sem.Release(1)
	if err != nil {
		return outcome, s.abortCause(runCtx, d)
	}

	// 2. Store + evaluate atomically with respect to deletion
	obs.DomainID = d.ID
	obs.CheckedAt = s.now().UTC()

	var (
		current domain.Domain
		event   domain.Event
		fire    bool
	)
	err = s.WithDomainLock(d.ID, func() error {
		if cause := context.Cause(runCtx); cause != nil {
			if errors.Is(cause, ErrDomainGone) {
				return ErrDomainGone
			}
			return cause
		}

		fresh, err := s.Store.GetDomain(ctx, d.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDomainGone
		}
		if err != nil {
			return err
		}
		current = *fresh

		prev, err := s.Store.LatestObservation(ctx, d.ID)
		if err != nil {
			return err
		}

		if err := s.Store.AppendObservation(ctx, &obs); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrDomainGone
			}
			return err
		}

		if s.Trigger != nil {
			event, fire = s.Trigger.Evaluate(current, prev, &obs)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDomainGone) {
			checksDropped.WithLabelValues("deleted").Inc()
			logrus.Infof("[Scheduler] dropping result for deleted domain %s", d.Name)
		}
		return outcome, err
	}

	// 3. Notify outside the lock
	if fire {
		s.Trigger.Fire(ctx, event)
	}

	res := domain.Classify(&obs, current.AlertThresholdDays, obs.CheckedAt)
	checksCompleted.WithLabelValues(string(res.Status)).Inc()

	outcome.Status = res.Status
	outcome.DaysLeft = res.ExpiresInDays
	outcome.ErrorMessage = obs.Problem()
	logTaskResult(d.Name, res.Status)
	return outcome, nil
}

// =============================================================================
// Private Logic: Probing
// =============================================================================

// probe runs the prober with a per-attempt timeout. Transient failures are retried with
// jittered exponential backoff up to MaxAttempts attempts in total; terminal failures and
// exhausted retries become an error observation. An error is only returned when ctx ends.
func (s *CheckScheduler) probe(ctx context.Context, hostname string) (domain.CertificateObservation, error) {
	attempt := 0
	operation := func() (domain.CertificateObservation, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.Config.ProbeTimeout)
		defer cancel()

		start := time.Now()
		obs, err := s.Prober.Probe(attemptCtx, hostname)
		probeDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			if verr := obs.Validate(); verr != nil {
				// a prober bug, recorded rather than stored as-is
				logrus.Errorf("[Scheduler] prober returned an invalid observation for %s: %v", hostname, verr)
				probeAttempts.WithLabelValues("terminal").Inc()
				return domain.CertificateObservation{}, backoff.Permanent(&ProbeError{Message: "probe returned an inconsistent result", Err: verr})
			}
			probeAttempts.WithLabelValues("ok").Inc()
			return obs, nil
		}

		if ctx.Err() != nil {
			return domain.CertificateObservation{}, backoff.Permanent(ctx.Err())
		}

		pe := asProbeError(err, attemptCtx)
		if pe.Transient {
			probeAttempts.WithLabelValues("transient").Inc()
			logrus.Debugf("[Scheduler] attempt %d for %s failed (transient): %v", attempt, hostname, pe)
			return domain.CertificateObservation{}, pe
		}
		probeAttempts.WithLabelValues("terminal").Inc()
		return domain.CertificateObservation{}, backoff.Permanent(pe)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.Config.BaseDelay,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         s.Config.MaxDelay,
	}

	obs, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(s.Config.MaxAttempts, 1))),
		backoff.WithNotify(func(err error, next time.Duration) {
			checkRetries.Inc()
			logrus.Warnf("[Scheduler] %s: %v, retrying in %s", hostname, err, next.Round(time.Millisecond))
		}),
	)
	if err == nil {
		return obs, nil
	}
	if ctx.Err() != nil {
		return domain.CertificateObservation{}, context.Cause(ctx)
	}

	var pe *ProbeError
	if !errors.As(err, &pe) {
		pe = &ProbeError{Message: err.Error(), Err: err}
	}
	return domain.CertificateObservation{ErrorMessage: pe.Message}, nil
}

func asProbeError(err error, attemptCtx context.Context) *ProbeError {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &ProbeError{Transient: true, Message: "connection timed out", Err: err}
	}
	return classifyProbeError(err)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *CheckScheduler) begin(parent context.Context, id primitive.ObjectID) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[id]; busy {
		return nil, nil, ErrCheckInProgress
	}

	ctx, cancel := context.WithCancelCause(parent)
	s.inflight[id] = cancel

	return ctx, func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		cancel(nil)
	}, nil
}

// abortCause reports why runCtx ended: deletion, or the caller going away.
func (s *CheckScheduler) abortCause(runCtx context.Context, d domain.Domain) error {
	cause := context.Cause(runCtx)
	if errors.Is(cause, ErrDomainGone) {
		checksDropped.WithLabelValues("deleted").Inc()
		logrus.Infof("[Scheduler] check of %s cancelled, domain deleted", d.Name)
		return ErrDomainGone
	}
	checksDropped.WithLabelValues("cancelled").Inc()
	if cause == nil {
		cause = context.Canceled
	}
	return cause
}

func (s *CheckScheduler) lockFor(id primitive.ObjectID) *sync.Mutex {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return &s.locks[h%uint32(len(s.locks))]
}

func (s *CheckScheduler) workers() int {
	if s.Config.Workers < 1 {
		return 1
	}
	return s.Config.Workers
}

func (s *CheckScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func logTaskResult(domainName string, status domain.Classification) {
	logrus.Infof("<<< [End  ] %s | status: %s", domainName, status)
}
