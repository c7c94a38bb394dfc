package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"talentfolio/api/internal/app"
	"talentfolio/api/internal/config"
	"talentfolio/api/internal/enhance"
	"talentfolio/api/internal/export"
	"talentfolio/api/internal/forms"
	"talentfolio/api/internal/history"
	"talentfolio/api/internal/notify"
	"talentfolio/api/internal/search"
	"talentfolio/api/internal/session"
	"talentfolio/api/internal/storage"
	"talentfolio/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	catalog := forms.DefaultCatalog()
	if strings.TrimSpace(cfg.CatalogPath) != "" {
		catalog, err = forms.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			log.Fatalf("catalog load failed: %v", err)
		}
	}

	dataStore := store.NewPostgresStore(db)

	tokenStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer tokenStore.Close()

	objectStore, err := storage.NewMinioStore(ctx, storage.Config{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.FilesBaseURL,
	})
	if err != nil {
		log.Fatalf("object storage failed: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, dataStore, catalog)

	var enhanceClient *enhance.Client
	if strings.TrimSpace(cfg.EnhanceURL) != "" {
		enhanceClient = enhance.NewClient(cfg.EnhanceURL)
	}

	bus := notify.NewBus()
	service := app.New(cfg, app.Deps{
		Store:   dataStore,
		Tokens:  tokenStore,
		Objects: objectStore,
		Catalog: catalog,
		Bus:     bus,
		Search:  searchService,
		History: history.New(cfg.HistoryDir),
		Export:  export.NewService(dataStore, catalog),
		Enhance: enhanceClient,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error: %v", err)
	}
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Talentfolio API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
