package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/majlis/chat-app/internal/ban"
	"github.com/majlis/chat-app/internal/coordinator"
	"github.com/majlis/chat-app/internal/messaging"
	"github.com/majlis/chat-app/internal/metrics"
	"github.com/majlis/chat-app/internal/protocol"
	"github.com/majlis/chat-app/internal/ratelimit"
	"github.com/majlis/chat-app/internal/report"
	"github.com/majlis/chat-app/internal/ws"
)

func main() {
	_ = godotenv.Load(".env")

	config := ws.DefaultServerConfig()
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	limits := coordinator.DefaultLimits()
	if v := os.Getenv("INACTIVITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			limits.InactivityTimeout = d
		}
	}
	if v := os.Getenv("HISTORY_PER_ROOM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limits.HistoryPerRoom = n
		}
	}

	publicDir := "public"
	if v := os.Getenv("PUBLIC_DIR"); v != "" {
		publicDir = v
	}

	// --- Redis: ban list and rate limiting ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	banStore := ban.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	// --- NATS: chat log pipeline (optional) ---
	// The server runs fine without it; log entries are simply dropped.
	var logSink coordinator.LogSink
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "majlis-chatserver"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Printf("NATS unavailable, chat log pipeline disabled: %v", err)
	} else {
		logSink = natsClient
	}

	// --- PostgreSQL: moderation audit trail (optional) ---
	var reporter coordinator.Reporter
	var db *sql.DB
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		cancel()

		migrationsDir := "migrations"
		if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
			migrationsDir = v
		}
		m, err := migrate.New("file://"+migrationsDir, dsn)
		if err != nil {
			log.Fatalf("failed to init migrations: %v", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run migrations: %v", err)
		}

		reporter = report.NewStore(db)
		log.Printf("moderation audit trail enabled")
	}

	log.Printf("Majlis chat server starting")
	log.Printf("  listen_addr:        %s", config.ListenAddr)
	log.Printf("  worker_pool:        %d", config.WorkerPoolSize)
	log.Printf("  max_connections:    %d", config.MaxConnections)
	log.Printf("  redis_addr:         %s", redisAddr)
	log.Printf("  nats_url:           %s", natsConfig.URL)
	log.Printf("  public_dir:         %s", publicDir)
	log.Printf("  history_per_room:   %d", limits.HistoryPerRoom)
	log.Printf("  inactivity_timeout: %s", limits.InactivityTimeout)

	// Declare server early so the coordinator's transport can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher(nil)
	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	coord := coordinator.New(coordinator.Config{
		Limits:    limits,
		Transport: server,
		Bans:      banStore,
		Limiter:   limiter,
		Logs:      logSink,
		Reports:   reporter,
	})

	server.SetOnConnect(func(conn *ws.Connection) bool {
		return coord.OnConnect(conn.ID, conn.Addr)
	})
	server.SetOnDisconnect(coord.OnDisconnect)

	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinRoomMsg); ok {
			coord.HandleJoinRoom(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeChatMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChatMessageMsg); ok {
			coord.HandleChatMessage(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeImageMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ImageMessageMsg); ok {
			coord.HandleImageMessage(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypePrivateMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.PrivateMessageMsg); ok {
			coord.HandlePrivateMessage(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeKickUser, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ModerationActionMsg); ok {
			coord.HandleKickUser(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeBanUser, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ModerationActionMsg); ok {
			coord.HandleBanUser(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeMakeAdmin, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ModerationActionMsg); ok {
			coord.HandleMakeAdmin(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			coord.HandleTyping(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			coord.HandleStopTyping(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeUpdateProfile, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.UpdateProfileMsg); ok {
			coord.HandleUpdateProfile(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeDeleteMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.DeleteMessageMsg); ok {
			coord.HandleDeleteMessage(conn.ID, m)
		}
	})

	// Application HTTP surface: metrics, room listing, static client UI.
	server.SetExtraRoutes(func(mux *http.ServeMux) {
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(coord.ActiveRooms())
		})
		if fi, err := os.Stat(publicDir); err == nil && fi.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(publicDir)))
		}
	})

	coord.StartReaper()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		coord.Close()
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if db != nil {
			if err := db.Close(); err != nil {
				log.Printf("postgres close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
