package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"stakeplay-backend/internal/audit"
	"stakeplay-backend/internal/config"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/handlers"
	"stakeplay-backend/internal/incentive"
	"stakeplay-backend/internal/jackpot"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/referral"
	"stakeplay-backend/internal/services"
	"stakeplay-backend/internal/settlement"
	"stakeplay-backend/internal/store"
	"stakeplay-backend/internal/worker"
)

const workerQueue = 1024

// app holds the wired engine and everything that needs closing on exit.
type app struct {
	cfg       *config.Config
	redis     *services.RedisService
	store     store.Store
	hub       *handlers.Hub
	ledger    *ledger.Ledger
	tree      *referral.Tree
	dist      *incentive.Distributor
	jackpot   *jackpot.Manager
	engine    *settlement.Engine
	registrar *referral.Registrar
	pool      *worker.Pool
	journal   *audit.Journal
	nats      *events.NATSPublisher
}

func initLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger.Init(&logger.Options{
		Level:      lvl,
		Writer:     os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	})
}

func loadPolicy(path string) (*policy.Snapshot, error) {
	snap, err := policy.Load(path)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("Policy file not found, using defaults", "path", path)
		return policy.Default(), nil
	}
	return nil, err
}

func newApp(cfg *config.Config) (*app, error) {
	snap, err := loadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	a := &app{cfg: cfg, hub: handlers.NewHub()}

	var locker lock.Locker
	switch cfg.Store {
	case "redis":
		a.redis, err = services.NewRedisService(cfg)
		if err != nil {
			return nil, err
		}
		a.store = a.redis
		locker = lock.NewRedis(a.redis.Client(), cfg.LockTTL)
	default:
		a.store = store.NewMemory()
		locker = lock.NewMemory()
	}

	notifiers := []events.Notifier{a.hub}
	if cfg.NATSURL != "" {
		a.nats, err = events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		notifiers = append(notifiers, a.nats)
	}
	notifier := events.NewFanout(notifiers...)

	a.journal, err = audit.Open(cfg.AuditDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open audit journal: %w", err)
	}

	p := policy.NewStatic(snap)
	a.pool = worker.NewPool(cfg.Workers, workerQueue)
	a.ledger = ledger.New(a.store, locker, notifier)
	a.tree = referral.NewTree(a.store)
	a.dist = incentive.NewDistributor(a.store, a.tree, a.ledger, p)
	a.jackpot = jackpot.NewManager(a.store, a.ledger, locker, p, notifier, jackpot.WithJournal(a.journal))
	a.engine = settlement.NewEngine(a.store, a.ledger, p, a.dist, notifier,
		settlement.WithJackpot(a.jackpot),
		settlement.WithJournal(a.journal),
		settlement.WithDispatcher(a.pool),
	)
	a.registrar = referral.NewRegistrar(a.tree, a.ledger, locker, p, a.engine.OnSignup,
		referral.WithSignupWalk(incentive.PendingSignup),
	)

	logger.Info("Engine wired", "store", cfg.Store, "nats", cfg.NATSURL != "", "workers", cfg.Workers)
	return a, nil
}

func (a *app) handlers() *handlers.Set {
	return &handlers.Set{
		Game:      handlers.NewGameHandler(a.engine),
		Wallet:    handlers.NewWalletHandler(a.engine, a.registrar),
		Jackpot:   handlers.NewJackpotHandler(a.jackpot),
		WebSocket: handlers.NewWebSocketHandler(a.engine, a.hub),
	}
}

// Close drains background jobs before closing the stores they write to.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warn("Failed to close audit journal", "error", err)
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("Failed to close redis", "error", err)
		}
	}
}
