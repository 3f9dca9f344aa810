// Package app wires the application together from configuration: stores,
// broker, engine, profile loader, notifier, and the HTTP control surface.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"wheelhouse/internal/analysis"
	"wheelhouse/internal/clock"
	"wheelhouse/internal/config"
	"wheelhouse/internal/engine"
	"wheelhouse/internal/executor"
	"wheelhouse/internal/logger"
	"wheelhouse/internal/market"
	"wheelhouse/internal/monitor"
	"wheelhouse/internal/notify"
	"wheelhouse/internal/profile"
	"wheelhouse/internal/risk"
	"wheelhouse/internal/scanner"
	"wheelhouse/internal/signal"
	"wheelhouse/internal/store"
	"wheelhouse/internal/store/diaglog"
	"wheelhouse/internal/store/sqlite"
	transport "wheelhouse/internal/transport/http"
	"wheelhouse/internal/volatility"
)

type App struct {
	cfg    *config.Config
	store  store.Store
	diag   *diaglog.Store
	broker market.Broker
	engine *engine.Engine
	server *transport.Server
	loader *profile.Loader
}

func New(cfg *config.Config) (*App, error) {
	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	dl, err := diaglog.Open(cfg.Store.DiagPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open diagnostic log: %w", err)
	}

	broker, err := buildBroker(cfg)
	if err != nil {
		st.Close()
		dl.Close()
		return nil, err
	}

	var textNotifier notify.TextNotifier
	if cfg.Notify.WebhookURL != "" {
		textNotifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}
	dispatcher := notify.NewDispatcher(st, textNotifier)

	sessions, err := clock.New()
	if err != nil {
		st.Close()
		dl.Close()
		return nil, fmt.Errorf("session clock: %w", err)
	}

	sc := scanner.NewScanner(broker,
		analysis.NewAnalyzer(cfg.Scanner.Weights),
		volatility.NewRanker(cfg.Scanner.MinIVSamples),
		signal.NewGenerator(cfg.Scanner.IVBands),
		cfg.Scanner.ScoreWeights)

	eng := engine.New(engine.Deps{
		Store:     st,
		Diag:      dl,
		Sessions:  sessions,
		Scanner:   sc,
		Monitor:   monitor.NewMonitor(broker, st),
		Validator: risk.NewValidator(),
		Executor:  executor.NewExecutor(broker, st, dispatcher.Dispatch),
		Account: engine.StaticAccount{
			Equity:      cfg.Account.Equity,
			BuyingPower: cfg.Account.BuyingPower,
		},
		AlertFn: dispatcher.Dispatch,
		Users:   cfg.Engine.Users,
		Cadence: cfg.Engine.Cadence,
	})

	defaultUser := cfg.Engine.Users[0]
	loader, err := profile.NewLoader(cfg.Profile.Path, defaultUser, st, dispatcher.Dispatch)
	if err != nil {
		st.Close()
		dl.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		store:  st,
		diag:   dl,
		broker: broker,
		engine: eng,
		server: transport.NewServer(cfg.App.HTTPAddr, eng, st),
		loader: loader,
	}, nil
}

func buildBroker(cfg *config.Config) (market.Broker, error) {
	switch cfg.Broker.Mode {
	case "paper":
		logger.Infof("app: using paper broker")
		return market.NewPaperBroker(), nil
	case "rest":
		inner, err := market.NewRESTClient(cfg.Broker.REST)
		if err != nil {
			return nil, fmt.Errorf("rest broker: %w", err)
		}
		return market.NewGuardedBroker(inner, cfg.Broker.BreakerThreshold, cfg.Broker.BreakerCooldown), nil
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
}

// Run starts everything and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.seedRiskLimits(ctx); err != nil {
		return err
	}
	if err := a.loader.Load(ctx); err != nil {
		return fmt.Errorf("load automation profiles: %w", err)
	}
	if a.cfg.Profile.HotReload {
		if err := a.loader.Watch(ctx); err != nil {
			logger.Warnf("app: profile hot reload disabled: %v", err)
		}
	}

	a.preheat(ctx)
	a.engine.Start()
	a.server.Start()

	<-ctx.Done()
	logger.Infof("app: shutting down")

	a.engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("app: http shutdown: %v", err)
	}
	a.diag.Close()
	return a.store.Close()
}

// seedRiskLimits writes the configured default ceilings for users that have
// none stored yet.
func (a *App) seedRiskLimits(ctx context.Context) error {
	for _, user := range a.cfg.Engine.Users {
		if _, err := a.store.GetRiskLimits(ctx, user); err == nil {
			continue
		}
		limits := a.cfg.Risk.Limits(user)
		if err := a.store.SaveRiskLimits(ctx, &limits); err != nil {
			return fmt.Errorf("seed risk limits for %s: %w", user, err)
		}
		logger.Infof("app: seeded risk limits for %s", user)
	}
	return nil
}

// preheat pulls price history for every automation symbol in parallel before
// the first cycle, surfacing broker connectivity problems at startup instead
// of mid-cycle.
func (a *App) preheat(ctx context.Context) {
	symbols := make(map[string]struct{})
	for _, user := range a.cfg.Engine.Users {
		autos, err := a.store.ListAutomations(ctx, user)
		if err != nil {
			continue
		}
		for _, auto := range autos {
			symbols[auto.Symbol] = struct{}{}
		}
	}
	if len(symbols) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for sym := range symbols {
		sym := sym
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, market.CallTimeout)
			defer cancel()
			if _, err := a.broker.GetPriceHistory(callCtx, sym, market.HistoryLookback); err != nil {
				logger.Warnf("app: preheat %s: %v", sym, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	logger.Infof("app: preheated price history for %d symbol(s)", len(symbols))
}
