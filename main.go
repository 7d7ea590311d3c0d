package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"commercepulse/internal/api"
	"commercepulse/internal/config"
	"commercepulse/internal/models"
	"commercepulse/internal/repository"
	"commercepulse/internal/worker"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

// dbProbeAttempts x dbProbeDelay is the startup window within which the
// database must answer before the process gives up.
const (
	dbProbeAttempts = 15
	dbProbeDelay    = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	log.Printf("Initializing commercepulse worker (%s)...", BuildCommit)
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Health Port: %d", cfg.HealthPort)
	log.Printf("Poll Interval: %s", cfg.PollInterval)
	log.Printf("Attribution Window: %d days", cfg.AttributionWindowDays)
	log.Printf("Ads Jobs Enabled: %v", cfg.AdsJobsEnabled)

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open DB pool: %v", err)
	}
	defer repo.Close()

	// The health listener comes up before the database is verified so the
	// platform's probes get a 503 instead of a connection refused.
	apiServer := api.NewServer(repo, cfg)
	go func() {
		log.Printf("Starting API server on :%d", cfg.HealthPort)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	if err := probeDatabase(repo); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	log.Println("Database connection verified.")

	if cfg.RunMigration {
		log.Println("Running database migration (RUN_MIGRATION=true)...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database migration complete.")
	}

	apiServer.MarkReady()

	commerceHTTP := config.NewHTTPClient(60*time.Second, cfg.IPv4Override)
	adsHTTP := config.NewHTTPClient(30*time.Second, cfg.IPv4Override)

	commerceHandler := worker.NewCommerceHandler(repo, cfg.CommerceAPIVersion, cfg.AttributionWindowDays, commerceHTTP)
	adsHandler := worker.NewAdsHandler(repo, cfg.AttributionWindowDays, adsHTTP)

	dispatcher := worker.NewDispatcher(repo, cfg.PollInterval)
	dispatcher.Register(models.JobCommerceFresh, commerceHandler)
	dispatcher.Register(models.JobCommerceWindowFill, commerceHandler)
	if cfg.AdsJobsEnabled {
		dispatcher.Register(models.JobAdsFresh, adsHandler)
		dispatcher.Register(models.JobAdsWindowFill, adsHandler)
	} else {
		log.Println("Ads handlers DISABLED (ADS_JOBS_ENABLED=false)")
	}
	dispatcher.OnEvent(apiServer.PublishRunEvent)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	<-sigChan
	log.Println("Shutting down...")
	cancel()
	// The dispatcher drains its in-flight run before returning.
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
}

func probeDatabase(repo *repository.Repository) error {
	var err error
	for attempt := 1; attempt <= dbProbeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = repo.Ping(ctx)
		cancel()
		if err == nil {
			return nil
		}
		log.Printf("DB probe %d/%d failed: %v", attempt, dbProbeAttempts, err)
		time.Sleep(dbProbeDelay)
	}
	return err
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		// Avoid leaking secrets embedded in query params; keep only scheme/host/path for debugging.
		u.RawQuery = ""
		return u.String()
	}

	// Best-effort fallback for malformed/DSN-like URLs.
	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)(\S+)`)
	return re.ReplaceAllString(raw, `$1****`)
}
