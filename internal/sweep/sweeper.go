// Package sweep ends conversations that went quiet. A cron-scheduled
// pass finds active conversations with no messages since the idle
// cutoff, marks them ended and drops their cached context so a later
// message starts a fresh conversation.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/concierge/internal/cache"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config controls the sweep cadence and idle cutoff.
type Config struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string

	// IdleFor is how long a conversation may sit without messages
	// before it is ended. Defaults to 24 hours.
	IdleFor time.Duration
}

// Sweeper runs the idle-conversation sweep on a cron schedule.
type Sweeper struct {
	conversations storage.ConversationStore
	contexts      cache.ContextCache
	logger        *observability.Logger
	metrics       *observability.Metrics
	config        Config

	cron *cron.Cron
	now  func() time.Time
}

func NewSweeper(conversations storage.ConversationStore, contexts cache.ContextCache, logger *observability.Logger, metrics *observability.Metrics, config Config) *Sweeper {
	if config.Schedule == "" {
		config.Schedule = "*/10 * * * *"
	}
	if config.IdleFor <= 0 {
		config.IdleFor = 24 * time.Hour
	}
	return &Sweeper{
		conversations: conversations,
		contexts:      contexts,
		logger:        logger,
		metrics:       metrics,
		config:        config,
		now:           time.Now,
	}
}

// Start validates the schedule and begins running sweeps in the
// background until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := cronParser.Parse(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Schedule, err)
	}

	s.cron = cron.New(cron.WithParser(cronParser))
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if _, err := s.Run(runCtx); err != nil {
			s.logger.Error(runCtx, "idle sweep failed", "error", err)
			if s.metrics != nil {
				s.metrics.RecordError("sweep", "run")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info(ctx, "idle sweep scheduled", "schedule", s.config.Schedule, "idle_for", s.config.IdleFor)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Run performs one sweep pass and returns how many conversations were
// ended. A failure on one conversation does not abort the pass.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.IdleFor)
	idle, err := s.conversations.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle conversations: %w", err)
	}

	ended := 0
	for _, conv := range idle {
		if err := s.conversations.End(ctx, conv.ID, s.now()); err != nil {
			s.logger.Error(ctx, "failed to end idle conversation", "conversation_id", conv.ID, "error", err)
			continue
		}
		s.contexts.Clear(ctx, conv.SessionID)
		ended++
		s.logger.Info(ctx, "idle conversation ended",
			"conversation_id", conv.ID,
			"client_id", conv.ClientID,
			"channel", conv.Channel)
	}

	if ended > 0 {
		s.logger.Info(ctx, "idle sweep completed", "ended", ended)
	}
	return ended, nil
}
