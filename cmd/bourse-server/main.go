// Command bourse-server runs the exchange: the TCP order-entry listener,
// the HTTP surface (/metrics and the websocket trade feed) and the
// background candle/AI loops, all under one tomb. It replaces the teacher's
// bare flag-less main() (cmd/main.go) with a github.com/spf13/cobra root
// command, grounded on VictorVVedtion-perp-dex/cmd/perpdexd/cmd/root.go's
// cobra.Command{Use, RunE} shape, stripped of everything Cosmos-SDK-specific.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/ai"
	"bourse/internal/bookcache"
	"bourse/internal/candles"
	"bourse/internal/catalog"
	"bourse/internal/config"
	"bourse/internal/domain"
	"bourse/internal/execution"
	"bourse/internal/feed"
	"bourse/internal/marketdata"
	"bourse/internal/server"
	"bourse/internal/settlement"
	"bourse/internal/store"
	"bourse/internal/store/gormstore"
	"bourse/internal/store/memstore"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("bourse-server: fatal")
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "bourse-server",
		Short: "Run the exchange's order-entry server and background services",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional)")

	root.AddCommand(newStartCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("bourse-server " + version)
		},
	}
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*configPath)
		},
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	configureLogging(cfg.Logging.Level)

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.New()
	if err := bootstrapCatalog(ctx, st, cat); err != nil {
		return fmt.Errorf("bootstrapping catalog: %w", err)
	}

	books := bookcache.New(st)
	settlementEngine := settlement.New(st)
	validator := execution.NewValidator(cat)
	hub := feed.NewHub()
	candleSvc := candles.NewService(st)
	marketSvc := marketdata.NewService(10 * time.Minute)

	tickPublisher := marketDataPublisher{market: marketSvc, candles: candleSvc}
	execSvc := execution.NewService(st, books, settlementEngine, validator, hub, tickPublisher)
	aiSvc := ai.NewService(st, execSvc, marketSvc, cfg.AI.BaseSeed)

	if err := bootstrapMarketData(ctx, st, cat, marketSvc); err != nil {
		return fmt.Errorf("bootstrapping market data: %w", err)
	}

	orderEntry := server.New(cfg.Listen.OrderEntryAddr, execSvc)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return orderEntry.Run(ctx) })
	t.Go(func() error { candleSvc.Run(t, cfg.Candles.FlushInterval); return nil })
	t.Go(func() error { return aiSvc.Run(t, cfg.AI.TickInterval) })
	t.Go(func() error { hub.Run(t.Dying()); return nil })
	t.Go(func() error { return serveHTTP(ctx, cfg.Listen.HTTPAddr, hub) })

	log.Info().
		Str("orderEntry", cfg.Listen.OrderEntryAddr).
		Str("http", cfg.Listen.HTTPAddr).
		Str("store", cfg.Store.Driver).
		Msg("bourse-server: running")

	<-ctx.Done()
	t.Kill(nil)
	return t.Wait()
}

func configureLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return gormstore.Open(cfg.SqlitePath)
	default:
		return memstore.New(), nil
	}
}

// bootstrapCatalog loads every stock known to the store into the in-memory
// catalog snapshot (§4.1's "the catalog is refreshed from the store at
// startup").
func bootstrapCatalog(ctx context.Context, st store.Store, cat *catalog.Catalog) error {
	stocks, err := st.ListStocks(ctx)
	if err != nil {
		return err
	}
	cat.Refresh(stocks)
	log.Info().Int("stocks", len(stocks)).Msg("bourse-server: catalog loaded")
	return nil
}

// bootstrapMarketData replays each stock's trades from the last 24 hours
// into the live quote service so LiveQuote isn't empty on a fresh restart
// (§4.9 "BuildFromHistory").
func bootstrapMarketData(ctx context.Context, st store.Store, cat *catalog.Catalog, market *marketdata.Service) error {
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)
	for _, stock := range cat.All() {
		for _, currency := range domain.SupportedCurrencies {
			trades, err := st.GetTransactionsByStockIdAndTimeRange(ctx, stock.StockId, currency, since, now)
			if err != nil {
				return err
			}
			if len(trades) == 0 {
				continue
			}
			market.BuildFromHistory(stock.StockId, currency, trades)
		}
	}
	return nil
}

func serveHTTP(ctx context.Context, addr string, hub *feed.Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/feed", hub.ServeWS)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// marketDataPublisher fans settled trades into both the live-quote service
// and the candle aggregator, satisfying execution.TickPublisher.
type marketDataPublisher struct {
	market  *marketdata.Service
	candles *candles.Service
}

func (p marketDataPublisher) PublishTrade(trade domain.Transaction) {
	p.market.ApplyTick(trade.StockId, trade.Currency, trade.Price, trade.Quantity, trade.Timestamp)
	p.candles.OnTrade(trade)
}
