package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically purges download tokens that have aged out.
type Janitor struct {
	store  Store
	maxAge time.Duration
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewJanitor creates a janitor that removes used tokens and unused tokens
// older than maxAge.
func NewJanitor(st Store, maxAge time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		store:  st,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logger.With().Str("component", "token-janitor").Logger(),
	}
}

// Start schedules the purge on the given cron spec and runs one purge
// immediately so a restart does not wait a full interval.
func (j *Janitor) Start(spec string) error {
	if _, err := j.cron.AddFunc(spec, j.purge); err != nil {
		return err
	}
	j.cron.Start()
	go j.purge()
	return nil
}

// Stop halts the schedule and waits for any running purge.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := j.store.PurgeTokens(ctx, time.Now().Add(-j.maxAge))
	if err != nil {
		j.logger.Error().Err(err).Msg("token purge failed")
		return
	}
	if n > 0 {
		j.logger.Info().Int64("purged", n).Msg("purged download tokens")
	}
}
