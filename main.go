package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"tvguide/api"
	"tvguide/config"
	"tvguide/handlers"
	"tvguide/internal/telemetry"
	"tvguide/internal/tracing"
	"tvguide/services/channels"
	"tvguide/services/fixtures"
	"tvguide/services/guide"
	"tvguide/services/scheduler"
)

// Version is set at build time.
var Version = "dev"

func main() {
	configFlag := flag.String("config", "", "path to settings.json (overrides TVGUIDE_CONFIG)")
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 TV Guide Generator Starting...")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	// Determine config path (flag, env or default)
	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("TVGUIDE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Load settings (creates defaults if missing), then apply environment overrides
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if err := config.ApplyEnv(&settings, os.LookupEnv); err != nil {
		log.Fatalf("invalid environment: %v", err)
	}
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	// Set up file logging with rotation
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
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	ctx := context.Background()

	exporter, err := tracing.ParseExporter(settings.Telemetry.TracingExporter)
	if err != nil {
		log.Fatalf("invalid tracing exporter: %v", err)
	}
	shutdownTracing, err := tracing.Setup(ctx, exporter, "tvguide")
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	if err := telemetry.Init(settings.Telemetry.SentryDSN, settings.Telemetry.Environment, Version); err != nil {
		log.Printf("Warning: %v", err)
	}
	defer telemetry.Flush()

	source, err := buildSource(settings)
	if err != nil {
		log.Fatalf("failed to build fixture source: %v", err)
	}

	loc, err := settings.Location()
	if err != nil {
		log.Fatalf("invalid source timezone %q: %v", settings.Source.Timezone, err)
	}
	normalizer := fixtures.NewNormalizer(loc, settings.MatchDuration())

	registry := channels.Default()
	matcher, err := channels.NewMatcher(settings.Guide.MatchStrategy, registry)
	if err != nil {
		log.Fatalf("invalid match strategy: %v", err)
	}
	generator := guide.NewGenerator(registry, matcher, guide.GeneratorOptions{
		GeneratorName:    settings.Guide.GeneratorName,
		PlaceholderTitle: settings.Guide.PlaceholderTitle,
		Window:           settings.Window(),
	})

	guideService := guide.NewService(source, normalizer, generator, guide.NewStore(), guide.Config{
		Window:         settings.Window(),
		EnablePlaylist: settings.Playlist.Enabled,
		GroupTitle:     settings.Playlist.GroupTitle,
		StreamBaseURL:  settings.Playlist.StreamBaseURL,
	})

	interval := settings.RefreshInterval()
	log.Printf("📺 %d channels, source=%s, refresh every %s, strategy=%s",
		registry.Len(), settings.Source.Mode, interval, settings.Guide.MatchStrategy)

	// The first refresh completes before the server accepts requests.
	sched := scheduler.NewService(guideService, interval, settings.CycleTimeout())
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	r := api.NewRouter(api.Handlers{
		Guide:  handlers.NewGuideHandler(guideService, sched),
		Health: handlers.NewHealthHandler(guideService, sched, 3*interval),
		Logs:   handlers.NewLogsHandler(afero.NewReadOnlyFs(afero.NewOsFs()), settings.Log.File),
	})

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "tvguide"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
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

	log.Println("🧹 Stopping refresh scheduler...")
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}

func buildSource(settings config.Settings) (fixtures.Source, error) {
	client := fixtures.NewHTTPClient(settings.HTTPTimeout())
	attempts := uint(max(settings.Source.RetryAttempts, 1))

	switch settings.Source.Mode {
	case config.SourceModeAPI:
		sm := settings.Source.SportMonks
		return fixtures.NewSportMonksSource(fixtures.SportMonksConfig{
			BaseURL:        sm.BaseURL,
			APIToken:       sm.APIToken,
			LeagueIDs:      sm.LeagueIDs,
			Window:         settings.Window(),
			RetryAttempts:  attempts,
			MaxConcurrency: settings.Source.MaxConcurrency,
			MaxPages:       sm.MaxPages,
		}, client), nil
	case config.SourceModeScrape:
		var renderer fixtures.Renderer
		switch settings.Source.Scrape.Renderer {
		case config.RendererBrowser:
			renderer = fixtures.NewBrowserRenderer(settings.HTTPTimeout())
		default:
			renderer = fixtures.NewHTTPRenderer(client, attempts)
		}
		return fixtures.NewScrapeSource(settings.Source.Scrape.URLs, renderer, settings.Source.MaxConcurrency), nil
	default:
		return nil, fmt.Errorf("unknown source mode %q", settings.Source.Mode)
	}
}
