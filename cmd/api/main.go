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

	"lessonmark/api/internal/app"
	"lessonmark/api/internal/auth"
	"lessonmark/api/internal/cache"
	"lessonmark/api/internal/comments"
	"lessonmark/api/internal/config"
	"lessonmark/api/internal/export"
	"lessonmark/api/internal/logger"
	"lessonmark/api/internal/rbac"
	"lessonmark/api/internal/search"
	"lessonmark/api/internal/store"
)

const usage = `usage:
  api                 run the HTTP server
  api migrate down    roll back every applied migration
  api token <userId>  print a bearer token for an existing user`

func main() {
	cfg := config.Load()
	zlog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	args := os.Args[1:]
	switch {
	case len(args) == 0:
		serve(ctx, cfg, db, zlog)
	case len(args) == 2 && args[0] == "migrate" && args[1] == "down":
		if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			zlog.Fatal("rollback failed", "error", err)
		}
		zlog.Info("migrations rolled back")
	case len(args) == 2 && args[0] == "token":
		token, err := issueDevToken(ctx, cfg, store.NewPostgresStore(db), args[1])
		if err != nil {
			zlog.Fatal("token issue failed", "error", err)
		}
		fmt.Println(token)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func issueDevToken(ctx context.Context, cfg config.Config, s *store.PostgresStore, userID string) (string, error) {
	user, err := s.GetUser(ctx, strings.TrimSpace(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %s does not exist", userID)
	}
	if err != nil {
		return "", err
	}
	claims := auth.NewClaims(user.ID, user.DisplayName, string(rbac.Normalize(user.Role)), 24*time.Hour)
	return auth.IssueToken([]byte(cfg.JWTSecret), claims)
}

func serve(ctx context.Context, cfg config.Config, db *sql.DB, zlog *logger.Logger) {
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		zlog.Fatal("migrations failed", "error", err)
	}
	if len(applied) > 0 {
		zlog.Info("migrations applied", "versions", applied)
	}

	dataStore := store.NewPostgresStore(db)
	policy := rbac.NewPolicy(dataStore)

	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, zlog)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgfts, zlog)
		searchService.ReindexAll(ctx, pgfts)
	} else {
		zlog.Info("MEILI_URL not set, comment search uses PostgreSQL full-text search")
		searchService = search.NewService(nil, pgfts, zlog)
	}

	engineOpts := []comments.Option{
		comments.WithIndexer(searchService),
		comments.WithLogger(zlog),
	}
	var probes []app.Probe
	if strings.TrimSpace(cfg.RedisURL) != "" {
		stalenessCache, err := cache.NewStalenessCache(cfg.RedisURL, cfg.StalenessTTL)
		if err != nil {
			zlog.Fatal("redis connection failed", "error", err)
		}
		defer stalenessCache.Close()
		engineOpts = append(engineOpts, comments.WithCache(stalenessCache))
		probes = append(probes, app.Probe{Name: "redis", Check: stalenessCache.Ping})
		zlog.Info("staleness cache enabled", "ttl", cfg.StalenessTTL.String())
	}
	engine := comments.New(dataStore, dataStore, policy, engineOpts...)

	var pdf export.PDFRenderer
	if cfg.PDFExport {
		pdf = export.ChromePDF
	}
	exporter := export.NewService(dataStore, engine, pdf, zlog)

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Comments: engine,
		Policy:   policy,
		Search:   searchService,
		Exporter: exporter,
		Probes:   probes,
		Logger:   zlog,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, zlog)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("lessonmark API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", "error", err)
	}
	searchService.Wait()
}
