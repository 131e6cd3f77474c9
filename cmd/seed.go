package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/mailpress/newsletter-gateway/internal/config"
	"github.com/mailpress/newsletter-gateway/internal/db"
	"github.com/mailpress/newsletter-gateway/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo admins and subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo admins and subscribers...")

		if err := seedAdmins(sqlDB); err != nil {
			return err
		}
		if err := seedSubscribers(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedAdmins inserts deterministic demo publisher accounts (idempotent).
func seedAdmins(dbx *sqlx.DB) error {
	admins := []model.Admin{
		{
			Name:         "Editorial",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(10),
		},
		{
			Name:         "Marketing",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(5),
		},
		{
			Name:         "Suspended Desk",
			APIKey:       "33333333333333333333333333333333",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO admins
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name        = VALUES(name),
    status      = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at  = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, a := range admins {
		if _, err := tx.Exec(q, a.Name, a.APIKey, a.Status, a.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert admin %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admins: %w", err)
	}
	return nil
}

// seedSubscribers inserts demo readers, most already confirmed (idempotent).
func seedSubscribers(dbx *sqlx.DB) error {
	subscribers := []model.Subscriber{
		{Email: "alice@example.com", Name: "Alice", Status: model.SubscriberConfirmed},
		{Email: "bob@example.com", Name: "Bob", Status: model.SubscriberConfirmed},
		{Email: "carol@example.com", Name: "Carol", Status: model.SubscriberConfirmed},
		{Email: "dave@example.com", Name: "Dave", Status: model.SubscriberPending},
	}

	const q = `
INSERT INTO subscribers
    (email, name, status, created_at, updated_at)
VALUES
    (?, ?, ?, NOW(), NOW())
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = NOW()
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, s := range subscribers {
		if _, err := tx.Exec(q, s.Email, s.Name, s.Status.String()); err != nil {
			return fmt.Errorf("insert subscriber %q: %w", s.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subscribers: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
