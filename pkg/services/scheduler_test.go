package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

type fakeRuleDirectory struct {
	rules []*models.EscalationRule
	err   error
	calls int32

	// gate, when set, blocks ListActiveRules until closed.
	gate chan struct{}
}

func (d *fakeRuleDirectory) ListActiveRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.rules, nil
}

func (d *fakeRuleDirectory) callCount() int {
	return int(atomic.LoadInt32(&d.calls))
}

func schedulerFixture(directory *fakeRuleDirectory, store *fakeEscalationStore, interval time.Duration) *Scheduler {
	source := &fakeSource{records: []models.TargetRecord{{
		ID:        "wo-1",
		Title:     "Broken elevator",
		CreatedAt: testNow.Add(-2 * time.Hour),
		Fields:    map[string]interface{}{"status": "open"},
	}}}
	registry := NewSourceRegistry()
	registry.Register(models.EntityWorkOrder, source)
	dispatcher := NewDispatcher(registry, NewRoleExpander(&fakeDirectory{}), store, 0)

	s := NewScheduler("ws-1", directory, dispatcher, interval)
	s.now = func() time.Time { return testNow }
	return s
}

func TestRunNowSummaryCounts(t *testing.T) {
	okRule := overdueRule()
	badRule := overdueRule()
	badRule.ID = "rule-2"
	badRule.Name = "Watches an unregistered entity"
	badRule.TriggerEntity = models.EntityRisk // no source registered, rule is inert

	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{okRule, badRule}}
	store := newFakeEscalationStore()
	s := schedulerFixture(directory, store, time.Minute)

	summary, err := s.RunNow(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.RulesChecked)
	assert.Equal(t, 1, summary.EscalationsFired)
	assert.Equal(t, testNow, summary.StartedAt)
	assert.Equal(t, testNow, summary.FinishedAt)
}

func TestRunPassContinuesPastFailingRule(t *testing.T) {
	// First rule errors at the source, second still fires. Checked counts
	// include the failed rule.
	badRule := overdueRule()
	badRule.ID = "rule-bad"
	badRule.TriggerEntity = models.EntityIssue
	okRule := overdueRule()

	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{badRule, okRule}}
	store := newFakeEscalationStore()
	s := schedulerFixture(directory, store, time.Minute)

	// Register a failing source for the bad rule's entity.
	s.dispatcher.sources.Register(models.EntityIssue, &fakeSource{err: errors.New("source down")})

	summary, err := s.RunNow(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.RulesChecked)
	assert.Equal(t, 1, summary.EscalationsFired)
	assert.Equal(t, 1, store.entryCount("rule-1", "wo-1"))
}

func TestRunPassSkipsInactiveRules(t *testing.T) {
	inactive := overdueRule()
	inactive.IsActive = false

	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{inactive}}
	store := newFakeEscalationStore()
	s := schedulerFixture(directory, store, time.Minute)

	summary, err := s.RunNow(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, summary.RulesChecked)
	assert.Empty(t, store.entries)
}

func TestRunNowDirectoryError(t *testing.T) {
	directory := &fakeRuleDirectory{err: errors.New("rules unavailable")}
	s := schedulerFixture(directory, newFakeEscalationStore(), time.Minute)

	_, err := s.RunNow(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateIdle, s.State())
}

func TestSummaryServesFreshCache(t *testing.T) {
	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{overdueRule()}}
	s := schedulerFixture(directory, newFakeEscalationStore(), time.Minute)

	_, err := s.RunNow(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, directory.callCount())

	// Within the freshness window the cached summary is returned without
	// a new pass.
	summary, err := s.Summary(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, summary)
	assert.Equal(t, 1, directory.callCount())
}

func TestSummaryReevaluatesWhenStale(t *testing.T) {
	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{overdueRule()}}
	s := schedulerFixture(directory, newFakeEscalationStore(), time.Minute)

	_, err := s.RunNow(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, directory.callCount())

	s.now = func() time.Time { return testNow.Add(2 * time.Minute) }

	_, err = s.Summary(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, directory.callCount())
}

func TestSummaryAlwaysEvaluatesWhenLoopDisabled(t *testing.T) {
	// With no tick interval there is no freshness window, so every
	// Summary call runs a pass instead of replaying the last one.
	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{overdueRule()}}
	s := schedulerFixture(directory, newFakeEscalationStore(), 0)

	_, err := s.Summary(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, directory.callCount())

	_, err = s.Summary(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, directory.callCount())
}

func TestConcurrentRunNowCollapses(t *testing.T) {
	gate := make(chan struct{})
	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{overdueRule()}, gate: gate}
	s := schedulerFixture(directory, newFakeEscalationStore(), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunNow(context.Background())
			assert.NoError(t, err)
		}()
	}

	// Let the callers pile up on the in-flight pass, then release it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, directory.callCount())
}

func TestRunPassAbandonsOnCancellation(t *testing.T) {
	rules := make([]*models.EscalationRule, 0, 3)
	for _, id := range []string{"rule-1", "rule-2", "rule-3"} {
		r := overdueRule()
		r.ID = id
		rules = append(rules, r)
	}
	directory := &fakeRuleDirectory{rules: rules}
	s := schedulerFixture(directory, newFakeEscalationStore(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.RunNow(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, summary.RulesChecked)
}

func TestStartDisabledWithoutInterval(t *testing.T) {
	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{overdueRule()}}
	s := schedulerFixture(directory, newFakeEscalationStore(), 0)

	s.Start(context.Background())
	s.Stop()
	assert.Equal(t, 0, directory.callCount())
}

func TestStartAndStopBackgroundLoop(t *testing.T) {
	directory := &fakeRuleDirectory{rules: []*models.EscalationRule{overdueRule()}}
	store := newFakeEscalationStore()
	s := schedulerFixture(directory, store, 10*time.Millisecond)

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return directory.callCount() >= 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	calls := directory.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, directory.callCount(), "no passes after Stop")
	assert.Equal(t, StateIdle, s.State())
}
