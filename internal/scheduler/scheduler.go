// Package scheduler runs the license server's periodic background jobs:
// currently the license expiry sweep that moves Active, non-lifetime
// licenses whose expires_at has passed into Expired, independent of any
// inline check a terminal's next validate call would perform.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jhonslife/giro-license-server/internal/metrics"
	"github.com/jhonslife/giro-license-server/internal/repository"
)

// Scheduler owns the cron runtime and the jobs registered against it.
type Scheduler struct {
	cron        *cron.Cron
	licenseRepo *repository.LicenseRepository
}

// New builds a scheduler with the standard minute-resolution cron parser.
func New(licenseRepo *repository.LicenseRepository) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		licenseRepo: licenseRepo,
	}
}

// Start registers the license expiry sweep on the given spec (a standard
// five-field cron expression, e.g. "*/5 * * * *") and starts the runner.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = "*/5 * * * *"
	}
	if _, err := s.cron.AddFunc(spec, s.runExpirySweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop drains in-flight jobs and halts the runner.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runExpirySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.licenseRepo.ExpireDue(ctx, time.Now().UTC())
	metrics.RecordExpirySweep(expired, err)
	if err != nil {
		log.Printf("license expiry sweep failed: %v", err)
		return
	}
	if expired > 0 {
		log.Printf("license expiry sweep: expired %d license(s)", expired)
	}
}
