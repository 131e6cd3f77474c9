package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mailpress/newsletter-gateway/internal/config"
	"github.com/mailpress/newsletter-gateway/internal/db"
	"github.com/mailpress/newsletter-gateway/internal/logger"
	"github.com/mailpress/newsletter-gateway/internal/mailer"
	"github.com/mailpress/newsletter-gateway/internal/metrics"
	"github.com/mailpress/newsletter-gateway/internal/repository"
	"github.com/mailpress/newsletter-gateway/internal/worker"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Run the continuous newsletter delivery worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cfg, cleanup, err := buildDelivery(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		count := cfg.Worker.Count
		if count <= 0 {
			count = 1
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> delivery worker started loops=%d lease=%s poll=%s maxAttempts=%d",
			count, d.Lease, d.PollInterval, d.MaxAttempts)

		var wg sync.WaitGroup
		for i := 0; i < count; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = d.Run(ctx)
			}()
		}
		wg.Wait()

		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Drain the delivery queue once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, cleanup, err := buildDelivery(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := d.Drain(ctx)
		log.Printf(">> drained %d obligations", n)
		return err
	},
}

// buildDelivery wires a Delivery from config: MySQL queue + issue store, the
// HTTP mailer, and the optional ClickHouse audit log.
func buildDelivery(cmd *cobra.Command) (*worker.Delivery, config.Config, func(), error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("mysql connect: %w", err)
	}

	cleanup := func() { _ = dbx.Close() }

	mail := mailer.NewHTTPClient(
		cfg.Mailer.BaseURL,
		cfg.Mailer.SendPath,
		cfg.Mailer.SenderEmail,
		cfg.Mailer.Token,
		cfg.Mailer.TimeoutMs,
		cfg.Mailer.Breaker.FailThreshold,
		cfg.Mailer.Breaker.OpenForMs,
	)

	d := worker.NewDelivery(
		repository.NewObligationsRepository(dbx),
		repository.NewIssuesRepository(dbx),
		mail,
	)
	d.Log = logger.Log

	if cfg.ClickHouse.DSN != "" {
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			// the audit log is best-effort; delivery proceeds without it
			log.Printf("clickhouse connect failed, audit log disabled: %v", err)
		} else {
			d.Audit = repository.NewCHDeliveriesRepository(chDB)
			prev := cleanup
			cleanup = func() {
				_ = chDB.Close()
				prev()
			}
		}
	}

	// tune knobs
	if cfg.Worker.Lease > 0 {
		d.Lease = cfg.Worker.Lease
	}
	if cfg.Worker.PollInterval > 0 {
		d.PollInterval = cfg.Worker.PollInterval
	}
	if cfg.Worker.MaxAttempts > 0 {
		d.MaxAttempts = cfg.Worker.MaxAttempts
	}
	if cfg.Worker.RetryBackoff > 0 {
		d.RetryBackoff = cfg.Worker.RetryBackoff
	}

	return d, cfg, cleanup, nil
}
