package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/adapters/builder"
	"github.com/melih/lighthouse-sandbox/internal/adapters/docker"
	httpadapter "github.com/melih/lighthouse-sandbox/internal/adapters/http"
	"github.com/melih/lighthouse-sandbox/internal/adapters/store"
	"github.com/melih/lighthouse-sandbox/internal/core/ports"
	"github.com/melih/lighthouse-sandbox/internal/core/services"
)

const version = "0.2.0"

type config struct {
	listenAddr   string
	image        string
	contextDir   string
	templateRepo string
	namePrefix   string
	workspaceDir string
	memoryBytes  int64
	cpuShares    int64
	appPort      string
	termPort     string

	sessionTTL       time.Duration
	reapInterval     time.Duration
	reapBatchSize    int
	gracefulTimeout  time.Duration
	emergencyTimeout time.Duration
}

func loadConfig() config {
	memory, err := units.RAMInBytes(envOr("LIGHTHOUSE_MEMORY", "512m"))
	if err != nil {
		memory = 512 * 1024 * 1024
	}
	return config{
		listenAddr:       envOr("LIGHTHOUSE_LISTEN", ":3000"),
		image:            envOr("LIGHTHOUSE_IMAGE", "lighthouse-sandbox:latest"),
		contextDir:       envOr("LIGHTHOUSE_BUILD_CONTEXT", "./sandbox-image"),
		templateRepo:     os.Getenv("LIGHTHOUSE_TEMPLATE_REPO"),
		namePrefix:       envOr("LIGHTHOUSE_PREFIX", "lighthouse"),
		workspaceDir:     envOr("LIGHTHOUSE_WORKSPACE", "/var/lib/lighthouse/workspace"),
		memoryBytes:      memory,
		cpuShares:        envInt64("LIGHTHOUSE_CPU_SHARES", 512),
		appPort:          envOr("LIGHTHOUSE_APP_PORT", "8080"),
		termPort:         envOr("LIGHTHOUSE_TERM_PORT", "7681"),
		sessionTTL:       envDuration("LIGHTHOUSE_SESSION_TTL", 30*time.Minute),
		reapInterval:     envDuration("LIGHTHOUSE_REAP_INTERVAL", time.Minute),
		reapBatchSize:    int(envInt64("LIGHTHOUSE_REAP_BATCH", 10)),
		gracefulTimeout:  envDuration("LIGHTHOUSE_GRACEFUL_TIMEOUT", 15*time.Second),
		emergencyTimeout: envDuration("LIGHTHOUSE_EMERGENCY_TIMEOUT", 5*time.Second),
	}
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LIGHTHOUSE_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := loadConfig()
	ctx := context.Background()

	// 1. Engine client and adapters (infrastructure).
	cli, err := docker.NewClient(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Docker client: %v", err)
	}

	provisioner := builder.NewProvisioner(cli, builder.Config{
		Image:        cfg.image,
		ContextDir:   cfg.contextDir,
		TemplateRepo: cfg.templateRepo,
	}, log)

	lifecycle := docker.NewAdapter(cli, docker.Config{
		Image:        cfg.image,
		NamePrefix:   cfg.namePrefix,
		WorkspaceDir: cfg.workspaceDir,
		User:         "sandbox",
		MemoryBytes:  cfg.memoryBytes,
		CPUShares:    cfg.cpuShares,
		AppPort:      cfg.appPort,
		TermPort:     cfg.termPort,
		Version:      version,
	}, log)

	sessions := store.NewMemory(cfg.sessionTTL)
	registry := services.NewRegistry(log)

	// 2. Core services.
	orch := services.NewOrchestrator(provisioner, lifecycle, sessions, registry, func(containerID string) ports.ExecService {
		mgr := docker.NewExecManager(cli, containerID, log)
		mgr.OnError(func(key string, err error) {
			log.WithFields(logrus.Fields{"exec": key, "error": err}).Warn("Exec stream fault")
		})
		return mgr
	}, log)

	// Provisioning the base image is the one startup step that is fatal.
	if err := orch.EnsureImage(ctx); err != nil {
		log.Fatalf("Failed to provision sandbox image: %v", err)
	}

	// Sweep containers left over from a previous run; their session records
	// did not survive the restart.
	if summary, err := lifecycle.CleanupAllByLabel(ctx); err != nil {
		log.WithField("error", err).Warn("Startup orphan sweep failed")
	} else if len(summary.Stopped) > 0 || len(summary.Failed) > 0 {
		log.WithFields(logrus.Fields{
			"stopped": len(summary.Stopped),
			"failed":  len(summary.Failed),
		}).Info("Removed containers from a previous run")
	}

	reaper := services.NewReaper(sessions, lifecycle, cfg.reapInterval, cfg.reapBatchSize, log)
	reaper.Start(ctx)
	go func() {
		for e := range reaper.Events() {
			log.WithFields(logrus.Fields{"type": e.Type, "session": e.SessionID}).Debug("Reaper event")
		}
	}()

	// 3. HTTP surface (thin plumbing over the orchestrator).
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	proxy := httpadapter.NewProxyHandler(sessions, lifecycle, cfg.appPort+"/tcp")
	app.Use(proxy.ProxyRequest)

	handler := httpadapter.NewSessionHandler(orch, sessions, reaper)
	api := app.Group("/api")
	v1 := api.Group("/v1")
	sessionsGroup := v1.Group("/sessions")
	sessionsGroup.Post("/", handler.CreateSession)
	sessionsGroup.Get("/", handler.ListSessions)
	sessionsGroup.Delete("/:id", handler.DeleteSession)
	sessionsGroup.Post("/:id/expired", handler.NotifySessionExpired)
	v1.Post("/containers/:id/orphaned", handler.NotifyOrphanedContainer)
	sessionsGroup.Post("/:id/exec", handler.CreateExec)
	sessionsGroup.Post("/:id/exec/:key/start", handler.StartExec)
	sessionsGroup.Post("/:id/exec/:key/input", handler.ExecInput)
	sessionsGroup.Post("/:id/exec/:key/resize", handler.ExecResize)
	sessionsGroup.Delete("/:id/exec/:key", handler.KillExec)

	registry.Register(services.StoppableResource("http-server", "API listener on "+cfg.listenAddr, httpadapter.NewServer(app)))

	// 4. Shutdown coordination.
	coordinator := services.NewCoordinator(registry, cfg.gracefulTimeout, cfg.emergencyTimeout, log)
	coordinator.BeforeShutdown(reaper.Stop)

	go func() {
		log.Infof("Server starting on %s", cfg.listenAddr)
		if err := app.Listen(cfg.listenAddr); err != nil {
			coordinator.Fatal(err)
		}
	}()

	coordinator.Listen()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
