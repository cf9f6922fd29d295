// File path: cmd/crawlchat/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crawlchat/crawlchat/internal/api"
	"github.com/crawlchat/crawlchat/internal/chat"
	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/crawl"
	"github.com/crawlchat/crawlchat/internal/embedding"
	"github.com/crawlchat/crawlchat/internal/ingest"
	"github.com/crawlchat/crawlchat/internal/llm"
	"github.com/crawlchat/crawlchat/internal/prefs"
	"github.com/crawlchat/crawlchat/internal/profile"
	"github.com/crawlchat/crawlchat/internal/retrieval"
	"github.com/crawlchat/crawlchat/internal/store"
)

func main() {
	logger := common.Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn("crawlchat: .env file not loaded", "error", err)
	} else {
		logger.Info("crawlchat: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	dbPath := flag.String("db", defaultDBPath(), "path to the SQLite database")
	profilesDir := flag.String("profiles", "profiles", "directory containing profile YAML files")
	embedWorkers := flag.Int("embed-workers", 4, "concurrent embedding calls per ingestion")
	flag.Parse()

	logger.Info("crawlchat: startup initiated", "addr", *addr, "db", *dbPath)

	if dir := filepath.Dir(*dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("crawlchat: cannot create data directory", "dir", dir, "error", err)
			fmt.Println("data directory error:", err)
			os.Exit(1)
		}
	}
	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Error("crawlchat: store open failed", "error", err)
		fmt.Println("store error:", err)
		os.Exit(1)
	}
	defer st.Close()

	registry, err := profile.LoadDir(*profilesDir)
	if err != nil {
		logger.Error("crawlchat: profile load failed", "dir", *profilesDir, "error", err)
		fmt.Println("profile error:", err)
		os.Exit(1)
	}
	logger.Info("crawlchat: profiles loaded", "count", len(registry.List()))

	providers := llm.NewProviders()
	logger.Info("crawlchat: llm providers ready",
		"chat", providers.Chat.Name(), "embed", providers.Embed.Name())

	gateway := embedding.NewGateway(providers.Embed)
	engine := retrieval.New(st, gateway)
	extractor := prefs.NewExtractor(st, providers.Classify)
	manager := chat.NewManager(st, engine, registry, providers.Chat, extractor)

	ingestOpts := []ingest.Option{ingest.WithEmbedWorkers(*embedWorkers)}
	if fetcher, err := crawl.NewFromEnv(); err != nil {
		logger.Warn("crawlchat: crawl service not configured, ingestion disabled", "error", err)
	} else {
		ingestOpts = append(ingestOpts, ingest.WithFetcher(fetcher))
	}
	pipeline := ingest.NewPipeline(st, gateway, providers.Chat, ingestOpts...)

	server := api.NewServer(st, manager, engine, pipeline, extractor)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("crawlchat: server listening", "addr", *addr, "health", "/healthz")
		fmt.Printf("Serving on %s\n", *addr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("crawlchat: shutdown requested", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("crawlchat: server stopped", "error", err)
			fmt.Println("server stopped:", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("crawlchat: http shutdown incomplete", "error", err)
	}
	pipeline.Wait()
	manager.Wait()
	logger.Info("crawlchat: shutdown complete")
}

func defaultDBPath() string {
	if env := strings.TrimSpace(os.Getenv("CRAWLCHAT_DB")); env != "" {
		return env
	}
	return filepath.Join("data", "crawlchat.db")
}
