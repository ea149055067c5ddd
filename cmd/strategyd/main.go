// Command strategyd launches the strategy actor runtime.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/quanterhq/strategyd/config"
	"github.com/quanterhq/strategyd/internal/bus/marketbus"
	"github.com/quanterhq/strategyd/internal/bus/persistbus"
	"github.com/quanterhq/strategyd/internal/bus/tradebus"
	"github.com/quanterhq/strategyd/internal/infra/persistence"
	"github.com/quanterhq/strategyd/internal/infra/persistence/migrations"
	"github.com/quanterhq/strategyd/internal/infra/persistence/postgres"
	"github.com/quanterhq/strategyd/internal/marketdata"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/risk"
	"github.com/quanterhq/strategyd/internal/schema"
	"github.com/quanterhq/strategyd/internal/strategy"
	"github.com/quanterhq/strategyd/internal/symbols"
	apptelemetry "github.com/quanterhq/strategyd/internal/telemetry"
	otelsetup "github.com/quanterhq/strategyd/lib/telemetry"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", "", "Path to strategyd configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stdlog := log.New(os.Stdout, "strategyd ", log.LstdFlags|log.Lmicroseconds)
	logger := observability.NewStdLogger(stdlog)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}
	stdlog.Printf("configuration loaded: strategies=%d", len(cfg.Strategies))

	_, telemetryShutdown, err := otelsetup.Init(ctx, cfg.Telemetry)
	if err != nil {
		stdlog.Fatalf("initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			stdlog.Printf("telemetry shutdown: %v", err)
		}
	}()

	if err := migrations.Apply(ctx, cfg.Database.DSN, cfg.Database.MigrationsDir, stdlog); err != nil {
		stdlog.Fatalf("apply migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		stdlog.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	postgres.ObservePoolMetrics(pool, "primary")

	persistBus := persistbus.NewMemoryBus(persistbus.MemoryConfig{BufferSize: cfg.Database.QueueDepth})
	defer persistBus.Close()

	persistSvc, err := persistence.NewService(persistence.ServiceConfig{
		Workers:      cfg.Database.Workers,
		QueueDepth:   cfg.Database.QueueDepth,
		WriteRetries: cfg.Database.WriteRetries,
	}, postgres.New(pool), persistBus, logger)
	if err != nil {
		stdlog.Fatalf("initialise persistence service: %v", err)
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := persistSvc.Run(ctx); err != nil && ctx.Err() == nil {
			stdlog.Printf("persistence service stopped: %v", err)
		}
	})

	router := marketbus.NewMemoryRouter()
	defer router.Close()

	var market marketbus.Router = router
	if strings.TrimSpace(cfg.Market.WebsocketURL) != "" {
		feed := marketdata.NewWSFeed(ctx, marketdata.FeedConfig{
			URL:              cfg.Market.WebsocketURL,
			HandshakeTimeout: cfg.Market.HandshakeTimeout,
		}, router, logger)
		defer feed.Stop()
		if err := feed.Start(); err != nil {
			// The feed keeps dialing in the background; strategies start
			// without quotes until the session is up.
			stdlog.Printf("quote feed not ready: %v", err)
		}
		market = marketdata.NewRouterBridge(router, feed)
	}

	trades := tradebus.NewMemoryGateway(tradebus.MemoryConfig{})
	defer trades.Close()
	startTradeLog(ctx, &lifecycle, trades, stdlog)

	metrics, err := apptelemetry.NewStrategyMetrics()
	if err != nil {
		stdlog.Printf("strategy metrics disabled: %v", err)
	}

	actors := make([]*strategy.Actor, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		actor, err := buildActor(sc, cfg.Risk, strategy.Deps{
			Logger:      logger,
			Notifier:    observability.LogNotifier{Logger: logger},
			Metrics:     metrics,
			Persistence: persistBus,
			Market:      market,
			Trades:      trades,
		})
		if err != nil {
			stdlog.Fatalf("initialise strategy %s: %v", sc.ID, err)
		}
		actors = append(actors, actor)

		lifecycle.Go(func() {
			if err := actor.Run(ctx); err != nil && ctx.Err() == nil {
				stdlog.Printf("strategy %s stopped: %v", actor.ID(), err)
			}
		})
	}

	for i, actor := range actors {
		actor.Tell(schema.InitCommand{})
		actor.Tell(schema.StartCommand{})
		for _, symbol := range cfg.Strategies[i].Watch {
			actor.Tell(schema.WatchCommand{Security: schema.Security{
				Kind:   schema.SecurityKindStock,
				Symbol: symbol,
				Code:   symbols.Code(symbol),
			}})
		}
	}

	stdlog.Print("strategyd started; awaiting shutdown signal")
	<-ctx.Done()
	stdlog.Print("shutdown signal received")

	for _, actor := range actors {
		actor.Tell(schema.StopCommand{})
	}
	lifecycle.Wait()
	stdlog.Print("shutdown completed")
}

func buildActor(sc config.StrategyConfig, rc config.RiskConfig, deps strategy.Deps) (*strategy.Actor, error) {
	deps.Risk = buildRiskChain(rc)
	deps.ReferenceData = strategy.MapReferenceData(sc.Names)

	if strings.TrimSpace(sc.Script) != "" {
		src, err := os.ReadFile(sc.Script)
		if err != nil {
			return nil, err
		}
		hooks, err := strategy.NewScriptHooks(sc.Script, string(src), sc.Config, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Hooks = hooks
	}

	return strategy.New(strategy.Config{
		StrategyID:  sc.ID,
		MailboxSize: sc.MailboxSize,
		InitTimeout: sc.InitTimeout,
	}, deps), nil
}

func buildRiskChain(rc config.RiskConfig) *risk.Chain {
	chain := risk.NewChain()
	if rc.MaxPositionAmount > 0 {
		chain.Append(risk.MaxPositionRule{MaxAmount: rc.MaxPositionAmount, OnFail: risk.ActionCancelOrder})
	}
	if strings.TrimSpace(rc.MaxOrderNotional) != "" {
		if notional, err := decimal.NewFromString(rc.MaxOrderNotional); err == nil {
			chain.Append(risk.MaxNotionalRule{MaxNotional: notional, OnFail: risk.ActionCancelOrder})
		}
	}
	if rc.OrdersPerSecond > 0 {
		chain.Append(risk.NewThrottleRule(rc.OrdersPerSecond, rc.OrderBurst, risk.ActionCancelOrder))
	}
	return chain
}

// startTradeLog drains the trade gateway and logs each forwarded order. A real
// deployment replaces this consumer with the broker connector.
func startTradeLog(ctx context.Context, lifecycle *conc.WaitGroup, trades tradebus.Gateway, stdlog *log.Logger) {
	ch, err := trades.Consume(ctx)
	if err != nil {
		stdlog.Printf("trade gateway consume: %v", err)
		return
	}
	lifecycle.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-ch:
				if !ok {
					return
				}
				if req.Order == nil {
					continue
				}
				stdlog.Printf("trade %s: strategy=%s symbol=%s price=%s amount=%d",
					req.Type, req.Order.StrategyID, req.Order.Symbol,
					req.Order.Price.String(), req.Order.Amount)
			}
		}
	})
}
