package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/chatroom/internal/auth"
	"github.com/hitoshi/chatroom/internal/config"
	"github.com/hitoshi/chatroom/internal/database"
	"github.com/hitoshi/chatroom/internal/handler"
	"github.com/hitoshi/chatroom/internal/logger"
	"github.com/hitoshi/chatroom/internal/metrics"
	"github.com/hitoshi/chatroom/internal/middleware"
	"github.com/hitoshi/chatroom/internal/realtime"
	"github.com/hitoshi/chatroom/internal/repository"
	"github.com/hitoshi/chatroom/internal/room"
	"github.com/hitoshi/chatroom/internal/security"
	"github.com/hitoshi/chatroom/internal/worker/presence"
	"github.com/hitoshi/chatroom/internal/ws"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "5000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はコネクションプールを開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.OpenWithPool(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:   cfg.DBMaxPoolSize,
		ConnectTimeout: cfg.DBConnectionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.WaitForConnection(context.Background(), db, cfg.DBConnectionTimeout, cfg.DBConnectRetries); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	roomRepo := repository.NewPostgresRoomRepo(db)
	msgRepo := repository.NewPostgresMessageRepo(db)

	// 3. 前回プロセスのオンラインフラグを落とす（ソケット受付前）
	if err := presence.NewResetJob(userRepo, slog.Default()).Run(context.Background()); err != nil {
		slog.Warn("continuing with stale presence flags", slog.String("error", err.Error()))
	}

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	sanitizer := security.NewContentSanitizer()
	authService := auth.NewService(
		userRepo,
		auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiration),
		auth.NewPasswordHasher(0),
		auth.ServiceConfig{
			MaxUsernameLength:    cfg.MaxUsernameLength,
			MaxDisplayNameLength: cfg.MaxDisplayNameLength,
		},
	)
	codes, err := room.NewCodeGenerator()
	if err != nil {
		return err
	}
	roomService := room.NewService(roomRepo, msgRepo, sanitizer, codes, room.Config{
		MaxRoomNameLength: cfg.MaxRoomNameLength,
	})

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitRoomsPerHour, cfg.RateLimitMessagesPerMin,
	))
	defer rateLimiter.Stop()

	// 6. リアルタイム層の構築
	eventRouter := realtime.NewRouter(realtime.RouterDeps{
		Registry: realtime.NewConnectionRegistry(),
		Rooms:    realtime.NewRoomIndex(0),
		Presence: realtime.NewPresenceTracker(),
		Hub:      realtime.NewHub(cfg.WSSendBuffer, collector, slog.Default()),
		Verifier: authService,
		Store:    room.NewStore(userRepo, roomRepo, msgRepo),
		Limiter:  rateLimiter.Messages(),
		Metrics:  collector,
		Logger:   slog.Default(),
	}, realtime.RouterConfig{
		MaxMessageLength: cfg.MaxMessageLength,
		EventTimeout:     cfg.EventTimeout,
	})

	wsHandler := ws.NewHandler(eventRouter, ws.Config{
		PingInterval:   cfg.WSPingInterval,
		PongTimeout:    cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		AllowedOrigin:  cfg.CORSAllowedOrigin,
	}, collector, slog.Default())

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,
		Logger:            slog.Default(),
		HealthChecker: handler.HealthCheckerFunc(func(ctx context.Context) error {
			return database.Ping(ctx, db, cfg.DBConnectionTimeout)
		}),
		MetricsHandler: metrics.Handler(registry),
		AuthService:    authService,
		RoomService:    roomService,
		WebSocket:      wsHandler,
	})

	// 8. HTTPサーバーの起動
	// WebSocketはアップグレード時にデッドラインを解除し、以降はws側で管理する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 新規接続の受付を止めてから、アップグレード済みのソケットを閉じる
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := wsHandler.Close(ctx); err != nil {
		return fmt.Errorf("websocket shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	v, err := database.RunMigrations(cfg.DatabaseURL)
	if errors.Is(err, database.ErrDirtySchema) {
		slog.Error("schema is dirty, repair it and run migrate force before retrying",
			slog.Uint64("version", uint64(v.Version)),
		)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(v.Version)),
	)
	return nil
}

// runSeed はサンプルデータを投入する。既存のデータはスキップする。
func runSeed(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	codes, err := room.NewCodeGenerator()
	if err != nil {
		return err
	}
	seeder := NewSeeder(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresRoomRepo(db),
		repository.NewPostgresMessageRepo(db),
		auth.NewPasswordHasher(0),
		codes,
	)
	if err := seeder.Run(context.Background()); err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
