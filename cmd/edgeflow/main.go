package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/executor"
	"github.com/edgeflow/edgeflow/internal/history"
	"github.com/edgeflow/edgeflow/internal/logger"
	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/security"
	"github.com/edgeflow/edgeflow/internal/validator"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

var Version = "0.1.0"

func main() {
	workflowPath := flag.String("workflow", "", "path to a workflow JSON document")
	configPath := flag.String("config", "", "path to a config file (optional)")
	validateOnly := flag.Bool("validate-only", false, "run validation and exit without executing")
	flag.Parse()

	if *workflowPath == "" {
		fmt.Fprintln(os.Stderr, "edgeflow: -workflow is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgeflow: load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "edgeflow: init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer logger.Sync()

	wf, err := loadWorkflow(*workflowPath)
	if err != nil {
		log.Fatal("load workflow", zap.Error(err))
	}

	if masterKey := os.Getenv("EDGEFLOW_MASTER_KEY"); masterKey != "" {
		if err := security.NewEncryptionService(masterKey).DecryptNodeParams(wf); err != nil {
			log.Fatal("decrypt node params", zap.Error(err))
		}
	}

	reg := registry.New(cfg.Registry.PluginRoot, registry.WithLogger(log))
	if err := reg.Discover(); err != nil {
		log.Fatal("discover plugins", zap.Error(err))
	}
	snap := reg.Snapshot()

	issues := validator.Validate(wf, snap)
	printIssues(issues)
	if hasErrors(issues) {
		log.Error("workflow failed validation, not executing", zap.Int("issue_count", len(issues)))
		os.Exit(1)
	}
	if *validateOnly {
		return
	}

	store, err := history.Open(cfg.History)
	if err != nil {
		log.Fatal("open history store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executionID := uuid.New().String()
	startedAt := time.Now()
	exec := executor.Execute(ctx, wf, snap, executor.Options{
		Logger: func(e executor.Event) {
			log.Info(e.LogMessage, zap.String("node_id", e.NodeID))
		},
	})

	nodeTypes := map[string]string{}
	for _, n := range wf.Nodes {
		nodeTypes[n.ID] = n.Type
	}

	for e := range exec.Events() {
		printEvent(e)
	}

	res := exec.Results()
	rec := history.FromResults(executionID, wf.Name, "", startedAt, res, nodeTypes)
	if err := store.Save(ctx, rec); err != nil {
		log.Warn("save execution history", zap.Error(err))
	}

	if len(res.Errors) > 0 {
		os.Exit(1)
	}
}

func loadWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	return &wf, nil
}

func printIssues(issues []validator.Issue) {
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", iss.Level, iss.NodeID, iss.Message)
	}
}

func hasErrors(issues []validator.Issue) bool {
	for _, iss := range issues {
		if iss.Level == validator.LevelError {
			return true
		}
	}
	return false
}

func printEvent(e executor.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}
