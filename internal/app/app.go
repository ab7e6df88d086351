package app

import (
	"context"
	"sync"

	"anonpost/internal/config"
	"anonpost/internal/flow"
	"anonpost/internal/gate"
	"anonpost/internal/moderation"
	"anonpost/internal/registry"
	"anonpost/internal/services/broadcast"
	"anonpost/internal/services/digest"
	"anonpost/internal/storage"
	kit "anonpost/internal/transport"
	"anonpost/internal/transport/telegram"
	"anonpost/pkg/logx"
)

// App wires the bot together: config, logging, storage, the Telegram
// gateway, the registries and the conversation/moderation layers.
type App struct {
	cfgm   *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	store storage.Store
	gw    kit.Gateway

	sessions *flow.Sessions
	users    *registry.Users
	pending  *registry.Pending
	mod      *moderation.Workflow
	engine   *broadcast.Engine
	flows    *flow.Flows
	digest   *digest.Service

	updates chan kit.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logsvc, log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.StoragePath(),
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	gw, err := telegram.New(telegram.Config{
		Token:       cfg.BotToken(),
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		logsvc:  logsvc,
		log:     log.With(logx.String("comp", "app")),
		store:   store,
		gw:      gw,
		updates: make(chan kit.Update, 256),
	}
	a.build(cfg)
	return a, nil
}

// build assembles the domain layers on top of the gateway and store.
func (a *App) build(cfg *config.Config) {
	channel := kit.ChatTarget{ChatID: cfg.Telegram.ChannelID}
	adminChat := kit.ChatTarget{ChatID: cfg.Telegram.AdminChatID}

	a.sessions = flow.NewSessions()
	a.users = registry.NewUsers(a.store, a.log.With(logx.String("comp", "users")))
	a.pending = registry.NewPending(a.store, a.log.With(logx.String("comp", "pending")))

	mode := moderation.ModeReview
	if cfg.Moderation.Mode == "instant" {
		mode = moderation.ModeInstant
	}
	a.mod = moderation.New(a.gw, a.pending, channel, adminChat, mode,
		a.log.With(logx.String("comp", "moderation")))

	a.engine = broadcast.New(a.gw, cfg.Broadcast.RatePerSec,
		a.log.With(logx.String("comp", "broadcast")))

	var g *gate.Gate
	if cfg.Membership.Require {
		g = gate.New(a.gw, cfg.Telegram.ChannelID, a.log.With(logx.String("comp", "gate")))
	}

	isAdmin := func(id int64) bool { return a.cfgm.Get().IsAdmin(id) }
	a.flows = flow.New(a.gw, a.sessions, a.users, g, a.mod, a.engine, isAdmin,
		a.log.With(logx.String("comp", "flow")))

	a.digest = digest.New(a.gw, a.pending, adminChat, cfg.Digest.Schedule,
		a.log.With(logx.String("comp", "digest")))
}

func (a *App) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.gw.Start(rctx, a.updates); err != nil {
		cancel()
		return err
	}
	if err := a.digest.Start(); err != nil {
		// A broken digest schedule should not keep the bot down.
		a.log.Warn("digest disabled", logx.Err(err))
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.dispatchLoop(rctx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(rctx, a.applyConfig); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	a.log.Info("started",
		logx.String("mode", string(a.mod.Mode())),
		logx.Int64("channel_id", a.cfgm.Get().Telegram.ChannelID))
	return nil
}

// applyConfig applies the reloadable settings. Token, chat ids and
// storage settings require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.engine.SetRate(cfg.Broadcast.RatePerSec)
	a.logsvc.SetLevel(cfg.Logging.Level)
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.digest.Stop()
	_ = a.gw.Stop(ctx)
	a.wg.Wait()
	err := a.store.Close()
	_ = a.logsvc.Close()
	return err
}
