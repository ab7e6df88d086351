package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"anonpost/internal/registry"
	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
)

// Service periodically reminds the admin chat about submissions still
// waiting for a decision. With an empty schedule it does nothing.
type Service struct {
	log       logx.Logger
	gw        kit.Gateway
	pending   *registry.Pending
	adminChat kit.ChatTarget
	schedule  string

	cron *cron.Cron
}

func New(gw kit.Gateway, pending *registry.Pending, adminChat kit.ChatTarget, schedule string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		gw:        gw,
		pending:   pending,
		adminChat: adminChat,
		schedule:  strings.TrimSpace(schedule),
	}
}

// Start schedules the digest. Invalid cron expressions are reported,
// not fatal: the bot runs fine without reminders.
func (s *Service) Start() error {
	if s.schedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.emit(ctx)
	})
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("pending digest scheduled", logx.String("schedule", s.schedule))
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Service) emit(ctx context.Context) {
	subs, err := s.pending.List(ctx)
	if err != nil {
		s.log.Warn("digest listing failed", logx.Err(err))
		return
	}
	if len(subs) == 0 {
		return
	}
	oldest := time.Since(subs[0].CreatedAt).Round(time.Minute)
	text := fmt.Sprintf("%d submission(s) awaiting review; the oldest has been waiting %s.",
		len(subs), oldest)
	if _, err := s.gw.SendText(ctx, s.adminChat, text, nil); err != nil {
		s.log.Warn("digest delivery failed", logx.Err(err))
	}
}
