// cmd/realityd is the main entrypoint for one reality-mesh server.
//
// Configuration is entirely via command-line flags so a single binary can
// serve any server in the mesh; no environment variables are read.
//
// Example — single node:
//
//	./realityd --id server1 --addr :8080 --storage memory
//
// Example — three-node mesh:
//
//	./realityd --id server1 --addr :8080 --peers http://localhost:8081,http://localhost:8082
//	./realityd --id server2 --addr :8081 --peers http://localhost:8080,http://localhost:8082
//	./realityd --id server3 --addr :8082 --peers http://localhost:8080,http://localhost:8081
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"reality-mesh/internal/accelerator"
	"reality-mesh/internal/api"
	"reality-mesh/internal/config"
	"reality-mesh/internal/mesh"
	"reality-mesh/internal/nodestore"
	"reality-mesh/internal/storage"
	"reality-mesh/internal/storage/memory"
	sqlstorage "reality-mesh/internal/storage/sql"
	syncsvc "reality-mesh/internal/sync"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	serverID := flag.String("id", "", "Unique server identifier (required)")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer base URLs")
	storageType := flag.String("storage", "memory", "Storage backend: memory or sql")
	sqlDialect := flag.String("sql-dialect", "postgres", "SQL dialect when --storage=sql: postgres, mysql, or sqlite")
	sqlDSN := flag.String("sql-dsn", "", "SQL connection string when --storage=sql")
	tableName := flag.String("table", "reality_nodes", "SQL table name when --storage=sql")
	redisURL := flag.String("redis-url", "", "Redis address(es), comma-separated; empty disables the accelerator")
	corsOrigins := flag.String("cors-origins", "*", "Comma-separated allowed CORS origins")
	corsCredentials := flag.Bool("cors-credentials", false, "Allow credentialed CORS requests")
	debug := flag.Bool("debug", false, "Enable gin debug mode")
	flag.Parse()

	cfg := config.Default()
	cfg.ServerID = *serverID
	cfg.Debug = *debug
	cfg.CORS = config.CORSConfig{Origins: splitNonEmpty(*corsOrigins), Credentials: *corsCredentials}
	if *peersFlag != "" {
		cfg.Peers = splitNonEmpty(*peersFlag)
	}
	cfg.Storage = config.StorageConfig{Type: config.StorageType(*storageType), Dialect: *sqlDialect, ConnectionString: *sqlDSN, TableName: *tableName}
	if *redisURL != "" {
		cfg.Redis = config.RedisConfig{Enabled: true, URL: *redisURL}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx := context.Background()

	// ── Storage ────────────────────────────────────────────────────────────
	adapter, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer adapter.Close()

	store := nodestore.New(adapter)

	// ── Mesh coordinator ───────────────────────────────────────────────────
	coordinator := mesh.NewCoordinator(cfg.ServerID, cfg.Peers)
	go runStalenessDecay(coordinator)

	// ── Redis accelerator (optional) ───────────────────────────────────────
	accel, err := accelerator.Connect(ctx, accelConfig(cfg), cfg.ServerID)
	if err != nil {
		log.Printf("redis accelerator disabled: %v", err)
		accel = nil
	}
	if accel != nil {
		defer accel.Close()
	}

	// ── Sync service ───────────────────────────────────────────────────────
	svc := syncsvc.New(cfg.ServerID, store, coordinator, accel)
	svc.InvalidationOff = cfg.Invalidation == config.InvalidationNone

	// ── HTTP server ────────────────────────────────────────────────────────
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Logger(cfg.ServerID), api.Recovery(), api.CORS(cfg.CORS.Origins, cfg.CORS.Credentials))

	handler := api.NewHandler(svc)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if *addr != "" {
		srv.Addr = *addr
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	go func() {
		log.Printf("server %s listening on %s (peers=%d)", cfg.ServerID, srv.Addr, len(cfg.Peers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server", cfg.ServerID)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Adapter, error) {
	switch cfg.Storage.Type {
	case config.StorageSQL:
		return sqlstorage.Open(ctx, sqlstorage.Dialect(cfg.Storage.Dialect), cfg.Storage.ConnectionString, cfg.Storage.TableName)
	default:
		return memory.New(), nil
	}
}

func accelConfig(cfg config.Config) accelerator.Config {
	if !cfg.Redis.Enabled {
		return accelerator.Config{}
	}
	return accelerator.Config{Addresses: splitNonEmpty(cfg.Redis.URL)}
}

// runStalenessDecay periodically demotes peers that have gone quiet,
// per spec.md §4.2's stalenessWindow rule.
func runStalenessDecay(coordinator *mesh.Coordinator) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for t := range ticker.C {
		coordinator.DecayStale(t)
	}
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
