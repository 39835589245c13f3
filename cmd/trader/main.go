package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"overlord/internal/bus"
	"overlord/internal/connector"
	"overlord/internal/engine"
	"overlord/internal/feed"
	"overlord/internal/obs"
	"overlord/internal/om"
	"overlord/internal/ops"
	"overlord/internal/pos"
	"overlord/internal/risk"
	"overlord/internal/router"
	"overlord/internal/schema"
	"overlord/internal/slippage"
	"overlord/internal/storage"
	"overlord/internal/storage/pg"
	"overlord/pkg/conn"
)

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if cfg.Profiler.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "overlord/trader",
			ServerAddress:   cfg.Profiler.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("start profiler failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	orderStore, positionStore, closeStore, err := buildStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer closeStore()

	orders := om.NewLedger(orderStore, cfg.MaxConcurrentOrders)
	rt := router.New(cfg.Venues)
	estimator := slippage.NewEstimator(cfg.SlippageToleranceBps, cfg.SlippageHistoryCap)
	positions := pos.NewLedger(positionStore)
	if err := positions.Load(ctx); err != nil {
		log.Fatalf("position load failed: %v", err)
	}

	var gate *risk.Gate
	if cfg.Risk != nil {
		gate = risk.NewGate(*cfg.Risk)
	}

	events := bus.New(cfg.EventBufferSize)
	defer events.Close()
	metrics := obs.NewMetrics()

	eng := engine.New(orders, rt, estimator, positions, gate, events, metrics, engine.Options{
		MonitorInterval: cfg.MonitorInterval,
		StaleTimeout:    cfg.StaleOrderTimeout,
	})

	for _, venue := range cfg.Venues {
		if !venue.Enabled {
			continue
		}
		paper := connector.NewPaper(venue.Name, rt.Quote, nil)
		paper.OnFill(func(fill schema.Fill) {
			if err := eng.HandleFill(context.Background(), fill.OrderID, fill.Quantity, fill.Price); err != nil {
				logs.Errorf("handle fill failed: order=%s err=%+v", fill.OrderID, err)
			}
		})
		eng.RegisterConnector(venue.Name, paper)
	}

	go reportExecutions(events.SubscribeExecutions())
	go reportPositions(events.SubscribePositions())

	if cfg.Feed.Endpoint != "" {
		quotes := feed.NewClient(ctx, cfg.Feed.Endpoint)
		if err := quotes.Start(ctx); err != nil {
			log.Fatalf("quote feed start failed: %v", err)
		}
		defer quotes.Close()
		if err := quotes.Subscribe(ctx, cfg.Feed.Symbols); err != nil {
			log.Fatalf("quote feed subscribe failed: %v", err)
		}
		quotes.ObserveQuotes(ctx, eng.UpdateQuote)
	}

	eng.Start(ctx)
	<-ctx.Done()
	eng.Stop()

	snapshot := eng.Metrics()
	logs.Infof("shutdown: created=%d submitted=%d rejected=%d fills=%d expired=%d execute_latency=%+v",
		snapshot.OrdersCreated, snapshot.OrdersSubmitted, snapshot.OrdersRejected,
		snapshot.Fills, snapshot.OrdersExpired, snapshot.ExecuteLatency)
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded(), nil
	}
	return ops.Load(path)
}

// defaultLoaded is the zero-config development setup: one simulated
// venue, in-memory storage, no feed.
func defaultLoaded() ops.Loaded {
	return ops.Loaded{
		MaxConcurrentOrders:  100,
		SlippageToleranceBps: decimal.NewFromInt(10),
		SlippageHistoryCap:   1000,
		MonitorInterval:      10 * time.Second,
		StaleOrderTimeout:    time.Hour,
		EventBufferSize:      256,
		Venues: []schema.VenueProfile{{
			Name:         "SIM",
			Enabled:      true,
			Priority:     1,
			MinOrderSize: decimal.RequireFromString("0.0001"),
			MaxOrderSize: decimal.NewFromInt(10000),
			TakerFee:     decimal.RequireFromString("0.001"),
		}},
		Risk: &risk.Config{
			MaxOrderQty:      decimal.NewFromInt(1000),
			MaxOrderNotional: decimal.NewFromInt(1_000_000),
			MaxPosition:      decimal.NewFromInt(5_000),
		},
	}
}

func buildStorage(cfg ops.StorageConfig) (storage.OrderStorage, storage.PositionStorage, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return storage.NewMemoryOrderStorage(), storage.NewMemoryPositionStorage(), func() {}, nil
	case "postgres":
		client, err := conn.New(cfg.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := pg.NewStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		return store, store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func reportExecutions(events <-chan bus.ExecutionEvent) {
	for event := range events {
		logs.Infof("execution: order=%s symbol=%s qty=%s price=%s status=%s",
			event.Order.ID, event.Order.Symbol, event.FilledQuantity,
			event.FillPrice, event.Order.Status)
	}
}

func reportPositions(events <-chan bus.PositionEvent) {
	for event := range events {
		logs.Infof("position: %s@%s qty=%s avg=%s realized=%s",
			event.Position.Symbol, event.Position.Venue, event.Position.Quantity,
			event.Position.AverageEntryPrice, event.Position.RealizedPnL)
	}
}
