package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeLock struct {
	acquired  bool
	released  int
	refreshes int
	lostAfter int
	err       error
}

func (f *fakeLock) Refresh(context.Context) error {
	f.refreshes++
	if f.lostAfter > 0 && f.refreshes >= f.lostAfter {
		return ErrLockLost
	}
	return nil
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.released++
	return nil
}

type testJob struct {
	name      string
	err       error
	processed int
	runs      int
	// block waits for the job context to end and returns its error.
	block bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) (int, error) {
	t.runs++
	if t.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return t.processed, t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestServiceRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success", processed: 3}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	reg := prometheus.NewRegistry()
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, success, failure),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got %d and %d", success.runs, failure.runs)
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released once, got %d", lock.released)
	}
	if got := counterValue(t, reg, "bazari_cron_job_items_processed_total", "success"); got != 3 {
		t.Fatalf("expected 3 processed items, got %v", got)
	}
	if got := counterValue(t, reg, "bazari_cron_job_runs_total", "fail"); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestServiceRunOnceStopsWhenLockLost(t *testing.T) {
	first := &testJob{name: "first"}
	second := &testJob{name: "second"}
	lock := &fakeLock{lostAfter: 1}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, first, second),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if first.runs != 1 || second.runs != 0 {
		t.Fatalf("expected cycle to stop after first job, got %d and %d", first.runs, second.runs)
	}
	if lock.released != 1 {
		t.Fatalf("expected release attempt, got %d", lock.released)
	}
}

func TestServiceRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{acquired: true},
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "bazari_cron_cycles_skipped_total" {
			return
		}
	}
	t.Fatal("expected skipped cycle to be counted")
}

func TestServiceRunOnceReportsLockError(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger: testLogger(),
		Lock:   &fakeLock{err: errors.New("redis down")},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestServiceJobTimeoutBoundsEachJob(t *testing.T) {
	stuck := &testJob{name: "stuck", block: true}
	after := &testJob{name: "after", processed: 1}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Registry:   mustRegistry(t, stuck, after),
		Lock:       lock,
		JobTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stuck.runs != 1 || after.runs != 1 {
		t.Fatalf("runs stuck=%d after=%d, want 1 each", stuck.runs, after.runs)
	}
	if lock.released != 1 {
		t.Fatalf("lock released %d times, want 1", lock.released)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "tick"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if job.runs != 1 {
		t.Fatalf("the first cycle should run immediately, runs=%d", job.runs)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected missing logger to be rejected")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected missing lock to be rejected")
	}
	service, err := NewService(ServiceParams{Logger: testLogger(), Lock: &fakeLock{}})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if service.every != defaultInterval || len(service.jobs.Jobs()) != 0 {
		t.Fatalf("defaults not applied: every=%s jobs=%d", service.every, len(service.jobs.Jobs()))
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}
