package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// SchedulerState is the scheduler's lifecycle state. There is no terminal
// state; the scheduler alternates between idle and evaluating for as long
// as its workspace context is running.
type SchedulerState string

const (
	StateIdle       SchedulerState = "idle"
	StateEvaluating SchedulerState = "evaluating"
)

// Scheduler drives periodic evaluation passes over all active rules of a
// workspace. A pass processes rules sequentially; candidates across rules
// never touch the same dedup key, so there is nothing to gain from
// parallel rules and a lot to gain in reasoning about the guard.
type Scheduler struct {
	workspaceID string
	rules       RuleDirectory
	dispatcher  *Dispatcher
	interval    time.Duration

	// Concurrent on-demand runs (several monitoring observers asking at
	// once) collapse into a single pass.
	group singleflight.Group

	mu          sync.Mutex
	state       SchedulerState
	lastSummary *models.RunSummary

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewScheduler creates a scheduler. A non-positive interval disables the
// background loop; passes then run only via RunNow or Summary.
func NewScheduler(workspaceID string, rules RuleDirectory, dispatcher *Dispatcher, interval time.Duration) *Scheduler {
	return &Scheduler{
		workspaceID: workspaceID,
		rules:       rules,
		dispatcher:  dispatcher,
		interval:    interval,
		state:       StateIdle,
		now:         time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the background tick loop. It is a no-op when the
// interval disables periodic evaluation.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		logrus.Info("Escalation scheduler: periodic evaluation disabled, on-demand only")
		return
	}
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logrus.Infof("Escalation scheduler started for workspace %s (interval %s)", s.workspaceID, s.interval)
		for {
			select {
			case <-runCtx.Done():
				logrus.Info("Escalation scheduler stopped")
				return
			case <-ticker.C:
				if _, err := s.RunNow(runCtx); err != nil {
					logrus.Errorf("Evaluation pass failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts the background loop and waits for an in-flight pass driven
// by it to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
}

// Summary returns the most recent run summary, evaluating on demand when
// the cache has gone stale. The cached result is treated as fresh for just
// under one interval, so observers refreshing between ticks do not trigger
// redundant passes. With the background loop disabled there are no ticks
// to anchor freshness, so every call evaluates; singleflight in RunNow
// keeps concurrent observers down to one pass.
func (s *Scheduler) Summary(ctx context.Context) (*models.RunSummary, error) {
	if summary := s.cachedSummary(); summary != nil {
		return summary, nil
	}
	return s.RunNow(ctx)
}

func (s *Scheduler) cachedSummary() *models.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval <= 0 || s.lastSummary == nil {
		return nil
	}
	freshFor := s.interval - s.interval/10
	if s.now().Sub(s.lastSummary.FinishedAt) < freshFor {
		copied := *s.lastSummary
		return &copied
	}
	return nil
}

// RunNow performs one evaluation pass, sharing the pass with any
// concurrent caller.
func (s *Scheduler) RunNow(ctx context.Context) (*models.RunSummary, error) {
	result, err, _ := s.group.Do("pass", func() (interface{}, error) {
		return s.runPass(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.RunSummary), nil
}

// runPass sweeps all active rules once. A rule that errors is logged and
// skipped; the pass continues with the next rule and the failed rule gets
// retried naturally on the next tick. Cancellation abandons the remaining
// rules, which shows up as rules_checked below the active rule count.
func (s *Scheduler) runPass(ctx context.Context) (*models.RunSummary, error) {
	s.setState(StateEvaluating)
	defer s.setState(StateIdle)

	started := s.now()
	summary := &models.RunSummary{StartedAt: started}

	rules, err := s.rules.ListActiveRules(ctx, s.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	for _, rule := range rules {
		select {
		case <-ctx.Done():
			logrus.Warnf("Evaluation pass cancelled after %d of %d rules", summary.RulesChecked, len(rules))
			s.finishPass(summary)
			return summary, nil
		default:
		}

		if !rule.IsActive {
			continue
		}

		fired, err := s.dispatcher.FireRule(ctx, rule, s.now())
		summary.RulesChecked++
		summary.EscalationsFired += fired
		if err != nil {
			// Rule-boundary recovery: a bad predicate, store error or
			// directory failure costs this rule this pass, nothing more.
			logrus.Errorf("Rule %s (%s) skipped: %v", rule.Name, rule.ID, err)
			continue
		}
	}

	s.finishPass(summary)
	logrus.Infof("Evaluation pass complete: checked=%d fired=%d in %s",
		summary.RulesChecked, summary.EscalationsFired, summary.FinishedAt.Sub(started))
	return summary, nil
}

func (s *Scheduler) finishPass(summary *models.RunSummary) {
	summary.FinishedAt = s.now()

	passesTotal.Inc()
	rulesCheckedTotal.Add(float64(summary.RulesChecked))
	escalationsFiredTotal.Add(float64(summary.EscalationsFired))
	passDurationSeconds.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	s.mu.Lock()
	copied := *summary
	s.lastSummary = &copied
	s.mu.Unlock()
}

func (s *Scheduler) setState(state SchedulerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
