// Command edgeflow-server is a thin HTTP+WebSocket front end over the
// workflow execution core: POST a workflow to run it, then watch its
// event stream over a WebSocket scoped to the returned execution ID.
// It is a sample transport, not part of the execution core itself.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/executor"
	"github.com/edgeflow/edgeflow/internal/health"
	edgelog "github.com/edgeflow/edgeflow/internal/logger"
	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/resources"
	"github.com/edgeflow/edgeflow/internal/scheduler"
	"github.com/edgeflow/edgeflow/internal/security"
	"github.com/edgeflow/edgeflow/internal/validator"
	ws "github.com/edgeflow/edgeflow/internal/websocket"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

var Version = "0.1.0"

type server struct {
	reg    *registry.Registry
	hub    *ws.Hub
	log    *zap.Logger
	secret *security.EncryptionService // nil when EDGEFLOW_MASTER_KEY is unset

	redis     *goredis.Client        // nil when redis.addr is unset
	snapCache *registry.SnapshotCache // nil when redis is unset

	resumersMu sync.Mutex
	resumers   map[string]*executor.RedisResumer

	checker *health.HealthChecker
	monitor *resources.Monitor
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgeflow-server: load config: %v\n", err)
		os.Exit(1)
	}

	if err := edgelog.Init(edgelog.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "edgeflow-server: init logger: %v\n", err)
		os.Exit(1)
	}
	log := edgelog.Get()
	defer edgelog.Sync()

	reg := registry.New(cfg.Registry.PluginRoot, registry.WithLogger(log))
	if err := reg.Discover(); err != nil {
		log.Fatal("discover plugins", zap.Error(err))
	}
	if cfg.Registry.WatchEnabled {
		if _, err := reg.Watch(500 * time.Millisecond); err != nil {
			log.Warn("start plugin watch", zap.Error(err))
		}
	}

	hub := ws.NewHub()
	go hub.Run()

	srv := &server{reg: reg, hub: hub, log: log, resumers: make(map[string]*executor.RedisResumer)}
	if masterKey := os.Getenv("EDGEFLOW_MASTER_KEY"); masterKey != "" {
		srv.secret = security.NewEncryptionService(masterKey)
	}

	if cfg.Redis.Addr != "" {
		srv.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		srv.snapCache = registry.NewSnapshotCache(srv.redis, "", 30*time.Second)
		if err := srv.snapCache.Publish(context.Background(), reg.Snapshot()); err != nil {
			log.Warn("publish registry snapshot to redis", zap.Error(err))
		}
	}

	srv.monitor = resources.NewMonitor("")
	go srv.monitor.Start(context.Background(), 15*time.Second)

	srv.checker = health.NewHealthChecker()
	srv.checker.RegisterCheck("registry", func(context.Context) (health.Status, string) {
		count := len(srv.reg.Snapshot().Types())
		if count == 0 {
			return health.StatusDegraded, "no node types discovered"
		}
		return health.StatusHealthy, fmt.Sprintf("%d node types discovered", count)
	}, 30*time.Second)
	srv.checker.RegisterCheck("memory", health.MemoryHealthCheck(func() (used, total uint64) {
		stats := srv.monitor.GetStats()
		return stats.MemoryUsed, stats.MemoryTotal
	}), 30*time.Second)
	srv.checker.RegisterCheck("disk", health.DiskSpaceHealthCheck(func() (used, total uint64) {
		stats := srv.monitor.GetStats()
		return stats.DiskUsed, stats.DiskTotal
	}), 30*time.Second)
	srv.checker.RegisterCheck("goroutines", health.GoroutineHealthCheck(func() int {
		return srv.monitor.GetStats().GoroutineCount
	}, 10000), 30*time.Second)
	if srv.redis != nil {
		srv.checker.RegisterCheck("redis", health.DatabaseHealthCheck(func(ctx context.Context) error {
			return srv.redis.Ping(ctx).Err()
		}), 30*time.Second)
	}

	sched := scheduler.New(executor.Execute, log)
	var mqttTrigger *scheduler.MQTTTrigger
	if len(cfg.Schedules) > 0 {
		mqttTrigger = srv.loadSchedules(cfg, sched, log)
	}
	sched.Start()
	defer sched.Stop()
	if mqttTrigger != nil {
		defer mqttTrigger.Close()
	}

	app := fiber.New(fiber.Config{AppName: "edgeflow-server v" + Version})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/api/health", func(c *fiber.Ctx) error {
		srv.checker.RunChecks(c.Context())
		results := srv.checker.GetCheckResults()
		results["version"] = Version
		if srv.checker.GetOverallStatus() != health.StatusHealthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(results)
		}
		return c.JSON(results)
	})
	app.Get("/api/v1/node-types", srv.listNodeTypes)
	app.Post("/api/v1/workflows/validate", srv.validateWorkflow)
	app.Post("/api/v1/workflows/run", srv.runWorkflow)
	app.Post("/api/v1/executions/:executionID/resume/:nodeID", srv.resumeExecution)

	app.Use("/ws/:executionID", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:executionID", websocket.New(func(c *websocket.Conn) {
		hub.HandleWebSocket(c, c.Params("executionID"))
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("edgeflow-server starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func (s *server) listNodeTypes(c *fiber.Ctx) error {
	snap := s.reg.Snapshot()
	types := snap.Types()
	return c.JSON(fiber.Map{"node_types": types})
}

func (s *server) validateWorkflow(c *fiber.Ctx) error {
	var wf workflow.Workflow
	if err := c.BodyParser(&wf); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	issues := validator.Validate(&wf, s.reg.Snapshot())
	return c.JSON(fiber.Map{"issues": issues})
}

// runRequest is the run endpoint's body: a workflow document under
// "workflow" plus an optional set of node ids to pause at under
// "breakpoints". Pausing only works when redis is configured, since
// resume has to cross the HTTP request boundary.
type runRequest struct {
	Workflow    workflow.Workflow `json:"workflow"`
	Breakpoints []string          `json:"breakpoints,omitempty"`
}

func (s *server) runWorkflow(c *fiber.Ctx) error {
	var req runRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	wf := req.Workflow
	if s.secret != nil {
		if err := s.secret.DecryptNodeParams(&wf); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "decrypt node params: "+err.Error())
		}
	}

	snap := s.reg.Snapshot()
	issues := validator.Validate(&wf, snap)
	for _, iss := range issues {
		if iss.Level == validator.LevelError {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"issues": issues})
		}
	}

	executionID := uuid.New().String()
	opts := executor.Options{}
	if len(req.Breakpoints) > 0 {
		if s.redis == nil {
			return fiber.NewError(fiber.StatusBadRequest, "breakpoints require redis to be configured")
		}
		opts.Breakpoints = make(map[string]bool, len(req.Breakpoints))
		for _, id := range req.Breakpoints {
			opts.Breakpoints[id] = true
		}
		resumer := executor.NewRedisResumer(s.redis, executionID)
		opts.Resume = resumer.Resume
		s.resumersMu.Lock()
		s.resumers[executionID] = resumer
		s.resumersMu.Unlock()
	}

	exec := executor.Execute(c.Context(), &wf, snap, opts)
	go func() {
		s.hub.Pipe(executionID, exec.Events())
		if len(req.Breakpoints) > 0 {
			s.resumersMu.Lock()
			if resumer, ok := s.resumers[executionID]; ok {
				resumer.Close()
				delete(s.resumers, executionID)
			}
			s.resumersMu.Unlock()
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": executionID,
		"websocket":    fmt.Sprintf("/ws/%s", executionID),
	})
}

// resumeExecution signals a paused node to continue. It only works for
// runs started with breakpoints, which publish through redis.
func (s *server) resumeExecution(c *fiber.Ctx) error {
	if s.redis == nil {
		return fiber.NewError(fiber.StatusBadRequest, "redis is not configured")
	}
	executionID := c.Params("executionID")
	nodeID := c.Params("nodeID")

	resumer := executor.NewRedisResumer(s.redis, executionID)
	defer resumer.Close()
	if err := resumer.Publish(c.Context(), nodeID); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}
