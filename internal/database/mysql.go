package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"

	"chatcore/internal/config"
)

// Init opens the MariaDB/MySQL connection and verifies it with a ping
func Init(cfg config.Config) (*sql.DB, error) {
	dsn := DSN(cfg)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 接続テスト
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connection established")
	return db, nil
}

// DSN builds the driver connection string. Timestamps are parsed into
// time.Time in UTC so microsecond ordering survives the round trip.
func DSN(cfg config.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = cfg.DBHost + ":" + cfg.DBPort
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(128) PRIMARY KEY,
		email VARCHAR(320) NOT NULL,
		profile_image_url TEXT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS message_views (
		owner_id VARCHAR(128) NOT NULL,
		peer_id VARCHAR(128) NOT NULL,
		message_id CHAR(36) NOT NULL,
		sender_id VARCHAR(128) NOT NULL,
		recipient_id VARCHAR(128) NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (owner_id, message_id),
		KEY idx_view_order (owner_id, peer_id, created_at),
		KEY idx_message (message_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS conversation_entries (
		owner_id VARCHAR(128) NOT NULL,
		peer_id VARCHAR(128) NOT NULL,
		sender_id VARCHAR(128) NOT NULL,
		message_id CHAR(36) NOT NULL,
		text TEXT NOT NULL,
		ts DATETIME(6) NOT NULL,
		peer_email VARCHAR(320) NOT NULL,
		peer_profile_image_url TEXT NOT NULL,
		PRIMARY KEY (owner_id, peer_id),
		KEY idx_entry_recency (owner_id, ts)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// Migrate creates the tables used by the messaging core if they are missing
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	log.Println("✅ Database schema ready")
	return nil
}
