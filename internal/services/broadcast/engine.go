package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"anonpost/internal/registry"
	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
)

// Report is the tally of one fan-out run. Blocked recipients are
// expected failures and counted separately from real delivery errors.
type Report struct {
	JobID     string
	Attempted int
	Sent      int
	Blocked   int
	Failed    int
	Took      time.Duration
}

// Engine sends one text to every registered user, sequentially, paced
// by a rate limiter. There is no rollback and no resume: messages
// already sent stay sent, and a crash loses the remaining fan-out.
type Engine struct {
	gw  kit.Gateway
	log logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(gw kit.Gateway, ratePerSec int, log logx.Logger) *Engine {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		gw:      gw,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

// SetRate applies a new pacing rate (config reload).
func (e *Engine) SetRate(ratePerSec int) {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	e.mu.Lock()
	e.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	e.mu.Unlock()
}

// Run fans text out to every user in the snapshot and returns the
// tally. Cancelling ctx stops after the in-flight send; already-sent
// messages are not affected.
func (e *Engine) Run(ctx context.Context, text string, users []registry.User) Report {
	start := time.Now()
	rep := Report{JobID: uuid.NewString()[:8]}
	log := e.log.With(logx.String("job", rep.JobID))

	log.Info("broadcast started", logx.Int("targets", len(users)))

	for _, u := range users {
		e.mu.Lock()
		lim := e.limiter
		e.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			log.Warn("broadcast interrupted", logx.Err(err), logx.Int("remaining", len(users)-rep.Attempted))
			break
		}

		rep.Attempted++
		_, err := e.gw.SendText(ctx, kit.ChatTarget{ChatID: u.ID}, text, nil)
		switch {
		case err == nil:
			rep.Sent++
		case errors.Is(err, kit.ErrBlocked):
			rep.Blocked++
			log.Debug("recipient blocked the bot", logx.Int64("user_id", u.ID))
		default:
			rep.Failed++
			log.Warn("broadcast send failed", logx.Int64("user_id", u.ID), logx.Err(err))
		}
	}

	rep.Took = time.Since(start)
	if rep.Failed > 0 {
		log.Warn("broadcast finished with failures",
			logx.Int("sent", rep.Sent), logx.Int("blocked", rep.Blocked),
			logx.Int("failed", rep.Failed), logx.Duration("dur", rep.Took))
	} else {
		log.Info("broadcast finished",
			logx.Int("sent", rep.Sent), logx.Int("blocked", rep.Blocked),
			logx.Duration("dur", rep.Took))
	}
	return rep
}
