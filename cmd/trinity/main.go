// Trinity orchestrator server - runs the execution engine, scheduler,
// and HTTP/WebSocket API over a shared Postgres-backed store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trinity-run/trinity/pkg/agentgateway"
	"github.com/trinity-run/trinity/pkg/api"
	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/config"
	"github.com/trinity-run/trinity/pkg/dependency"
	"github.com/trinity-run/trinity/pkg/engine"
	"github.com/trinity-run/trinity/pkg/events"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/notification"
	"github.com/trinity-run/trinity/pkg/queue"
	"github.com/trinity-run/trinity/pkg/recovery"
	"github.com/trinity-run/trinity/pkg/repo/postgres"
	"github.com/trinity-run/trinity/pkg/scheduler"
	"github.com/trinity-run/trinity/pkg/services"
	"github.com/trinity-run/trinity/pkg/stephandlers"

	"github.com/gin-gonic/gin"
)

// coordinatorLauncher forwards stephandlers.ChildLauncher to a
// *engine.Coordinator assigned after construction, breaking the
// registry/coordinator construction cycle in main.
type coordinatorLauncher struct {
	Coordinator *engine.Coordinator
}

func (l *coordinatorLauncher) StartChild(ctx context.Context, childProcessName string, input map[string]any, parentExecutionID string) (string, error) {
	return l.Coordinator.StartChild(ctx, childProcessName, input, parentExecutionID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./deploy/config/trinity.yaml"), "Path to the Trinity config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	slog.Info("starting trinity", "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewClient(ctx, postgres.Config{DSN: cfg.Database.DSN()})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	ids := clock.UUIDGen{}
	wallClock := clock.System{}

	defs := postgres.NewProcessDefinitionRepo(db)
	execs := postgres.NewProcessExecutionRepo(db)
	approvals := postgres.NewApprovalRepo(db)
	schedules := postgres.NewScheduleRepo(db)
	outputs := postgres.NewOutputStore(db)
	auditRepo := postgres.NewAuditRepo(db)

	eval := expression.New()
	resolver := dependency.New(eval)

	gateway, err := agentgateway.Dial(cfg.AgentGateway.Addr)
	if err != nil {
		log.Fatalf("failed to dial agent gateway at %s: %v", cfg.AgentGateway.Addr, err)
	}
	defer gateway.Close()

	taskQueue := queue.New(queue.Config{}, gateway)
	defer taskQueue.Stop()

	senders := map[string]notification.ChannelSender{}
	for _, channel := range cfg.Notification.EnabledChannels {
		senders[channel] = notification.LogSender{Channel: channel}
	}
	notifySink := notification.NewSink(senders)
	approvalNotifier := notification.NewApprovalNotifier(notifySink, cfg.Notification.ApprovalChannel)

	// sub_process steps launch children through the coordinator, but the
	// coordinator can only be built once the registry exists. launcherRef
	// breaks the cycle: the sub_process handler holds it from the start,
	// and its Coordinator field is set once engine.New returns below.
	launcherRef := &coordinatorLauncher{}

	handlers := stephandlers.NewRegistry(map[models.StepKind]stephandlers.Handler{
		models.StepAgentTask:     stephandlers.NewAgentTaskHandler(eval, taskQueue),
		models.StepHumanApproval: stephandlers.NewHumanApprovalHandler(approvals, approvalNotifier, ids, wallClock),
		models.StepGateway:       stephandlers.NewGatewayHandler(eval),
		models.StepTimer:         stephandlers.NewTimerHandler(eval, wallClock),
		models.StepNotification:  stephandlers.NewNotificationHandler(eval, notifySink),
		models.StepSubProcess:    stephandlers.NewSubProcessHandler(eval, launcherRef),
	})

	// bus is wired with the sinks that have no engine dependency first;
	// AwarenessSink and ParentResumeSink are added once the coordinator
	// exists, since both close the coordinator -> bus -> sink ->
	// coordinator loop through an interface rather than a package cycle.
	auditSink := events.NewAuditSink(auditRepo, ids, wallClock)
	bus := events.NewBus(1024, auditSink)

	limits := engine.Limits{MaxConcurrentExecutions: cfg.Engine.MaxConcurrentExecutions}
	coordinator := engine.New(defs, execs, outputs, approvals, handlers, resolver, eval, bus, wallClock, ids, limits)
	launcherRef.Coordinator = coordinator

	bus.AddSink(events.NewAwarenessSink(coordinator, gateway))
	bus.AddSink(events.NewParentResumeSink(coordinator, coordinator))

	authzSvc := authz.New()
	connManager := events.NewConnectionManager(api.NewAccessChecker(authzSvc))
	bus.AddSink(events.NewWebSocketSink(connManager))
	bus.Start()

	sched := scheduler.New(schedules, coordinator, wallClock, scheduler.Config{
		MaxJitter: cfg.Scheduler.MaxJitter, MinWakeInterval: cfg.Scheduler.MinWakeInterval,
	})
	sched.Start()
	defer sched.Stop()

	go coordinator.RunRetrySweeper(ctx, cfg.Engine.RetrySweep())

	processSvc := services.NewProcessService(defs, wallClock, ids)
	executionSvc := services.NewExecutionService(coordinator, execs)
	approvalSvc := services.NewApprovalService(coordinator, approvals)
	scheduleSvc := services.NewScheduleService(schedules, defs, sched, coordinator, wallClock, ids)
	auditSvc := services.NewAuditService(auditRepo, wallClock, ids)

	server := api.NewServer(processSvc, executionSvc, approvalSvc, scheduleSvc, auditSvc, authzSvc, ids)
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring incomplete: %v", err)
	}
	server.SetDatabase(db)
	server.SetConnectionManager(connManager)

	recoverySvc := recovery.New(execs, defs, coordinator, wallClock, recovery.Config{
		MaxAge: cfg.Recovery.MaxAge, DryRun: cfg.Recovery.DryRun,
	})
	server.SetRecoveryActive(true)
	report, err := recoverySvc.Run(ctx)
	server.SetRecoveryActive(false)
	if err != nil {
		slog.Error("startup recovery pass failed", "error", err)
	} else {
		server.SetLastRecoveryReport(report)
		slog.Info("startup recovery complete", "resumed", report.Resumed, "retried", report.Retried, "failed", report.Failed, "skipped", report.Skipped)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		log.Fatalf("http server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
	}
}
