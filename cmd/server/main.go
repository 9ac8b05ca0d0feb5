package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"chatcore/internal/chat"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/handler"
	"chatcore/internal/hub"
	"chatcore/internal/index"
	"chatcore/internal/model"
	"chatcore/internal/retry"
	"chatcore/internal/store"
	"chatcore/internal/users"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  .env file not found, using default values: %v", err)
	}

	// 環境変数を読み込み
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db        *sql.DB
		messages  store.Repository
		entries   index.Repository
		directory users.Directory
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Println("⚠️  Using in-memory storage: messages are lost on restart")
		messages = store.NewMemoryRepository()
		entries = index.NewMemoryRepository()
		directory = users.NewMemoryDirectory(devUsers()...)
	default:
		// データベース接続を初期化
		var err error
		db, err = database.Init(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to initialize database: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
		messages = store.NewMySQLRepository(db)
		entries = index.NewMySQLRepository(db)
		directory = users.NewMySQLDirectory(db)
	}

	policy := retry.Policy{Retries: cfg.StoreWriteRetries, MaxInterval: cfg.StoreRetryMaxInterval}
	subscriptions := hub.New(cfg.HubQueueSize)
	defer subscriptions.Close()

	svc := chat.New(
		store.New(messages, directory, subscriptions, store.WithRetryPolicy(policy)),
		index.New(entries, directory, subscriptions, policy),
		subscriptions,
		directory,
	)

	// ハンドラー初期化
	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	h := handler.New(svc, cfg, pinger)
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("========================================")
	fmt.Println("  Chatcore Messaging Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws/conversations\n", cfg.ServerPort)
	fmt.Printf("  Storage: %s\n", cfg.StoreBackend)
	if db != nil && cfg.DBName != "" {
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		subscriptions.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("❌ Shutdown error: %v", err)
		}
	}()

	log.Println("🚀 Server started successfully")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ Server error: %v", err)
	}
	log.Println("👋 Server stopped")
}

// devUsers reads DEV_USERS ("id:email,id:email") to seed the in-memory
// directory.
func devUsers() []model.User {
	var out []model.User
	for _, pair := range strings.Split(os.Getenv("DEV_USERS"), ",") {
		id, email, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" {
			continue
		}
		out = append(out, model.User{ID: id, Email: email})
	}
	return out
}
