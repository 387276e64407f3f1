package main

import (
	"context"
	"encoding/json"
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

	"toolbridge/cmd"
	"toolbridge/internal/api"
	"toolbridge/internal/database"
	"toolbridge/internal/marshal"
	"toolbridge/internal/messaging"
	"toolbridge/internal/registry"
	"toolbridge/internal/runner"
	"toolbridge/internal/storage"
	"toolbridge/internal/workspace"
	"toolbridge/pkg/models"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root         string `env:"ROOT" envDefault:"./toolbridge"`
	Port         int    `env:"PORT" envDefault:"3001"`
	PlatformRoot string `env:"PLATFORM_ROOT" envDefault:""`
	SnapshotRoot string `env:"SNAPSHOT_ROOT" envDefault:""`
	ResourcesDir string `env:"RESOURCES_DIR" envDefault:""`
}

const archiveBucket = "archive"

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "toolbridge.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var pending []database.Run
	if err := db.Where("state = ?", string(runner.StatePending)).Find(&pending).Error; err != nil {
		log.Fatalf("Failed to fetch queued runs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, run := range pending {
		if err := queue.PublishRunTask(context.Background(), messaging.RunTaskPayload{
			RunId: run.Id,
		}); err != nil {
			log.Fatalf("Failed to requeue run: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, queue messaging.Publisher, reg *registry.Registry, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue, reg)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

// runOnce drives a single processor run in the foreground with a terminal
// progress bar, bypassing the queue and the database.
func runOnce(cfg Config, reg *registry.Registry, tool, wsPath, ancestry, params string) {
	ctx := context.Background()

	adapter, ok := reg.Get(tool)
	if !ok {
		log.Fatalf("unknown processor %s", tool)
	}

	desc, err := reg.Describe(ctx, tool)
	if err != nil {
		log.Fatalf("could not obtain description for processor %s: %v", tool, err)
	}

	wireValues := make(map[string]models.ParameterValue)
	if params != "" {
		if err := json.Unmarshal([]byte(params), &wireValues); err != nil {
			log.Fatalf("invalid -params value: %v", err)
		}
	}
	values := make(map[string]marshal.Value, len(wireValues))
	for name, pv := range wireValues {
		value, err := runner.ParameterValue(pv)
		if err != nil {
			log.Fatalf("argument %q: %v", name, err)
		}
		values[name] = value
	}

	payload, err := marshal.Payload(desc, values, adapter.SubmitOverrides)
	if err != nil {
		log.Fatalf("could not marshal parameters: %v", err)
	}

	ws := &workspace.Workspace{
		Root:         filepath.Join(cfg.PlatformRoot, wsPath),
		PlatformRoot: cfg.PlatformRoot,
		SnapshotDir:  filepath.Join(cfg.SnapshotRoot, wsPath),
		Ancestry:     strings.Split(ancestry, ","),
	}

	canceler := &runner.Canceler{}
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "cancellation requested")
		canceler.Cancel()
	}()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(tool),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	orch := runner.NewOrchestrator(reg.Backend(adapter))
	outcome := orch.Execute(ctx, runner.RunSpec{
		RunID:     uuid.New(),
		Tool:      tool,
		Image:     adapter.Image,
		Workspace: ws,
		Payload:   payload,
		Canceler:  canceler,
		Callbacks: runner.Callbacks{
			OnOutput: func(line string) { fmt.Println(line) },
			OnError:  func(line string) { fmt.Fprintln(os.Stderr, line) },
			OnProgress: func(fraction float64) {
				_ = bar.Set(int(fraction * 100))
			},
		},
	})

	if outcome.Err != nil {
		fmt.Fprintf(os.Stderr, "run ended as %s: %v\n", outcome.State, outcome.Err)
	} else {
		fmt.Printf("run ended as %s\n", outcome.State)
	}
	if outcome.State != runner.StateCompleted {
		os.Exit(1)
	}
}

// restoreRun downloads a run's archived output group into the working
// directory.
func restoreRun(cfg Config, runId string) {
	id, err := uuid.Parse(runId)
	if err != nil {
		log.Fatalf("invalid run id %q: %v", runId, err)
	}

	db := createDatabase(cfg.Root)

	archive, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "archive"))
	if err != nil {
		log.Fatalf("Failed to create archive store: %v", err)
	}

	proc := runner.NewRunProcessor(db, nil, nil, cfg.PlatformRoot, cfg.SnapshotRoot, archive, archiveBucket)
	if err := proc.RestoreOutput(context.Background(), id, "."); err != nil {
		log.Fatalf("Failed to restore run output: %v", err)
	}
}

func main() {
	var runTool, runWorkspace, runAncestry, runParams, runRestore string
	flag.StringVar(&runTool, "tool", "", "run this processor once in the foreground and exit")
	flag.StringVar(&runWorkspace, "workspace", "", "workspace path relative to the platform root (with -tool)")
	flag.StringVar(&runAncestry, "ancestry", "", "comma-separated snapshot ancestry (with -tool)")
	flag.StringVar(&runParams, "params", "", "submitted parameter values as JSON (with -tool)")
	flag.StringVar(&runRestore, "restore", "", "restore this run's archived output group into the working directory and exit")

	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	if cfg.PlatformRoot == "" {
		cfg.PlatformRoot = filepath.Join(cfg.Root, "workspaces")
	}
	if cfg.SnapshotRoot == "" {
		cfg.SnapshotRoot = filepath.Join(cfg.Root, "snapshots")
	}

	if runRestore != "" {
		restoreRun(cfg, runRestore)
		return
	}

	reg := cmd.BuildRegistry(cfg.ResourcesDir)

	if runTool != "" {
		runOnce(cfg, reg, runTool, runWorkspace, runAncestry, runParams)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "platform_root", cfg.PlatformRoot)

	db := createDatabase(cfg.Root)

	archive, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "archive"))
	if err != nil {
		log.Fatalf("Failed to create archive store: %v", err)
	}

	queue := createQueue(db)

	processor := runner.NewRunProcessor(db, reg, queue, cfg.PlatformRoot, cfg.SnapshotRoot, archive, archiveBucket)

	if err := processor.EnsureArchive(context.Background()); err != nil {
		log.Fatalf("Failed to create archive bucket: %v", err)
	}

	server := createServer(db, queue, reg, cfg.Port)

	slog.Info("starting run processor")
	go processor.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
