package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/formlane/formlane/internal/api"
	"github.com/formlane/formlane/internal/cache"
	"github.com/formlane/formlane/internal/db"
	"github.com/formlane/formlane/internal/middleware"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrateCommand(); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		logger.Info("migrations applied")
		return
	}

	addr := os.Getenv("FORMLANE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	commit := os.Getenv("FORMLANE_COMMIT")
	buildTime := os.Getenv("FORMLANE_BUILD_TIME")

	store, err := newStore(logger)
	if err != nil {
		logger.Fatal("init store", zap.Error(err))
	}
	local, err := newLocalCache()
	if err != nil {
		logger.Fatal("init local cache", zap.Error(err))
	}

	router := api.NewRouter(store, local, logger)
	// Warm the cache so remote outages can fall back to a snapshot.
	if err := router.Forms().LoadAll(); err != nil {
		logger.Warn("initial form load failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	router.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Formlane API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	handler := middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux)))

	logger.Info("formlane server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	if os.Getenv("FORMLANE_DEV") != "" {
		l, err := zap.NewDevelopment()
		if err == nil {
			return l
		}
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// newStore opens the SQLite-backed remote store when FORMLANE_DB is set
// and falls back to the in-process store otherwise.
func newStore(logger *zap.Logger) (api.Store, error) {
	path := os.Getenv("FORMLANE_DB")
	if path == "" {
		logger.Info("FORMLANE_DB not set, using in-memory store")
		return api.NewMemoryStore(), nil
	}
	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?cache=shared&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(sqlDB, os.Getenv("FORMLANE_MIGRATIONS_DIR")); err != nil {
		return nil, err
	}
	return db.NewSQLiteStore(sqlDB, logger)
}

func newLocalCache() (cache.Store, error) {
	dir := os.Getenv("FORMLANE_CACHE_DIR")
	if dir == "" {
		return cache.NewMemory(0), nil
	}
	quota := int64(0)
	if v := os.Getenv("FORMLANE_CACHE_QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			quota = n
		}
	}
	return cache.NewFile(dir, quota)
}
