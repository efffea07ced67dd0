package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"

	"reelsync/api"
	"reelsync/config"
	"reelsync/handlers"
	"reelsync/internal/schedule"
	"reelsync/models"
	"reelsync/services/detector"
	"reelsync/services/journal"
	"reelsync/services/journal/backends"
	"reelsync/services/kvstore"
	"reelsync/services/matcher"
	"reelsync/services/scrobble"
	"reelsync/services/trakt"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	configFlag := flag.String("config", "", "path to settings.json (default $REELSYNC_CONFIG or cache/settings.json)")
	flag.Parse()

	fmt.Println("🚀 reelsync starting...")

	configPath := strings.TrimSpace(*configFlag)
	if configPath == "" {
		configPath = os.Getenv("REELSYNC_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	var logOut io.Writer = os.Stdout
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			logOut = io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(logOut)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: parseLevel(settings.Log.Level)})))

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	r := mux.NewRouter()
	httpClient := &http.Client{Timeout: 20 * time.Second}

	var (
		journalSet *backends.Set
		store      kvstore.Store
		manager    *scrobble.Manager
		tracker    *detector.Detector
	)

	if settings.Proxy.Enabled {
		journalSet = backends.New(settings.Journal, httpClient, backends.Endpoints{})
		journalSvc := journal.NewService(journalSet.Registry, 30*time.Second)
		api.RegisterProxy(r, handlers.NewJournalHandler(journalSvc, settings.Proxy.CacheMaxAgeSecs), api.ProxyConfig{
			AllowedOrigin: settings.Proxy.AllowedOrigin,
		})
		fmt.Printf("✅ Journal proxy enabled (%s)\n", strings.Join(journalSvc.Sources(), ", "))
	}

	if settings.Agent.Enabled {
		store, err = kvstore.Open(rootCtx, settings.Storage.Backend, settings.Storage.Directory)
		if err != nil {
			log.Fatalf("failed to open local store: %v", err)
		}

		traktClient := trakt.NewClient(settings.Trakt.ClientID, settings.Trakt.ClientSecret, trakt.WithHTTPClient(httpClient))
		tokens := trakt.NewTokenSource(traktClient, store)
		if !traktClient.HasCredentials() {
			slog.Warn("trakt credentials missing; scrobbles will fail until configured")
		}

		var searcher matcher.Searcher
		switch settings.Matcher.Provider {
		case "ai":
			ai := settings.Matcher.AI
			searcher = matcher.NewAISearcher(matcher.AIConfig{
				APIKey:         ai.APIKey,
				BaseURL:        ai.BaseURL,
				Model:          ai.Model,
				TimeoutSeconds: ai.TimeoutSeconds,
			}, nil)
		default:
			searcher = matcher.NewTraktSearcher(traktClient)
		}
		policy := matcher.Policy{
			Threshold: settings.Matcher.ConfidenceThreshold,
			TieMargin: settings.Matcher.TieMargin,
		}

		scheduler := schedule.Ticker{}
		manager = scrobble.NewManager(scrobble.Options{
			Tracker:          trakt.NewScrobbler(traktClient, tokens),
			Identifier:       matcher.NewIdentifier(searcher, policy),
			Store:            store,
			Scheduler:        scheduler,
			Policy:           policy,
			ProgressInterval: time.Duration(settings.Scrobble.ProgressIntervalSeconds) * time.Second,
			HistoryLimit:     settings.Scrobble.HistoryLimit,
			Disabled:         !settings.Trakt.ScrobblingEnabled,
			Context:          rootCtx,
		})
		tracker = detector.New(detector.Options{
			Scheduler:    scheduler,
			Threshold:    time.Duration(settings.Scrobble.ThresholdSeconds) * time.Second,
			Interval:     time.Duration(settings.Scrobble.CheckIntervalSeconds) * time.Second,
			Store:        store,
			HistoryLimit: settings.Scrobble.HistoryLimit,
			OnDetected:   manager.OnDetected,
		})

		api.RegisterAgent(r, api.AgentHandlers{
			Scrobble: handlers.NewScrobbleHandler(manager),
			Trakt:    handlers.NewTraktHandler(traktClient, tokens),
			Bridge:   handlers.NewBridgeHandler(tracker, manager, settings.Agent.AllowedOrigins),
			Settings: handlers.NewUserSettingsHandler(store, models.UserSettings{
				ScrobblingEnabled:   settings.Trakt.ScrobblingEnabled,
				ThresholdSeconds:    settings.Scrobble.ThresholdSeconds,
				ConfidenceThreshold: settings.Matcher.ConfidenceThreshold,
			}),
		}, settings.Agent.AllowedOrigins)
		fmt.Printf("✅ Scrobble agent enabled (matcher: %s, store: %s)\n", settings.Matcher.Provider, settings.Storage.Backend)
	}

	api.RegisterDebug(r)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // websocket connections stay open
		IdleTimeout:       120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if tracker != nil {
		tracker.Close()
	}
	if manager != nil {
		manager.Close(shutdownCtx)
	}
	stopBackground()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
	}
	if journalSet != nil {
		if err := journalSet.Close(); err != nil {
			log.Printf("journal backends close error: %v", err)
		}
	}

	log.Println("✅ Shutdown complete")
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
