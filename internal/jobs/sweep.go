package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/repository"
	"github.com/zapgate/gateway-server-go/internal/session"
)

// SweepJob periodically removes dead sessions from the registry and prunes
// archived messages past the retention window.
type SweepJob struct {
	supervisor  *session.Supervisor
	archiveRepo repository.ArchiveRepository
	retention   time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewSweepJob(
	supervisor *session.Supervisor,
	archiveRepo repository.ArchiveRepository,
	retention time.Duration,
	interval time.Duration,
) *SweepJob {
	return &SweepJob{
		supervisor:  supervisor,
		archiveRepo: archiveRepo,
		retention:   retention,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if removed := j.supervisor.Sweep(ctx); removed > 0 {
		log.Info().Int("count", removed).Msg("swept dead sessions")
	}

	if j.archiveRepo == nil || j.retention <= 0 {
		return
	}

	cutoff := time.Now().Add(-j.retention)
	count, err := j.archiveRepo.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune archived messages")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned archived messages")
	}
}
