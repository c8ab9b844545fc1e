package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_job_runs_total",
		Help: "Background job runs, labeled by job and outcome",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Duration of background job runs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"job"})
)

// Task is one unit of periodic work. A returned error is logged and the
// task runs again at its next tick.
type Task func(ctx context.Context) error

// Supervisor runs registered tasks on fixed intervals. A panicking task is
// recovered and rescheduled, and a tick that arrives while the previous run
// of the same task is still going is skipped.
type Supervisor struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	entries []cron.EntryID
	kicks   sync.WaitGroup
}

func NewSupervisor() *Supervisor {
	logger := cron.PrintfLogger(log.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cron:   cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register schedules task every interval.
func (s *Supervisor) Register(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.run(name, task)
	}))

	s.mu.Lock()
	s.entries = append(s.entries, id)
	s.mu.Unlock()

	log.WithFields(log.Fields{"job": name, "interval": interval}).Info("Scheduled job")
	return nil
}

func (s *Supervisor) run(name string, task Task) {
	timer := prometheus.NewTimer(jobDuration.WithLabelValues(name))
	defer timer.ObserveDuration()

	if err := task(s.ctx); err != nil {
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		log.WithError(err).WithField("job", name).Error("Job failed")
		return
	}
	jobRunsTotal.WithLabelValues(name, "ok").Inc()
}

// Start begins scheduling and fires every registered task once right away.
func (s *Supervisor) Start() {
	s.cron.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.entries {
		job := s.cron.Entry(id).WrappedJob
		if job == nil {
			continue
		}
		s.kicks.Add(1)
		go func() {
			defer s.kicks.Done()
			job.Run()
		}()
	}
}

// Stop cancels the context handed to running tasks and waits for them to
// return, or for ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	stopped := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.kicks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to finish: %w", ctx.Err())
	}
}
