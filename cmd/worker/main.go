package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"toolbridge/cmd"
	"toolbridge/internal/database"
	"toolbridge/internal/messaging"
	"toolbridge/internal/runner"
	"toolbridge/internal/storage"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL  string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL  string `env:"RABBITMQ_URL,notEmpty,required"`
	PlatformRoot string `env:"PLATFORM_ROOT,notEmpty,required"`
	SnapshotRoot string `env:"SNAPSHOT_ROOT,notEmpty,required"`
	ResourcesDir string `env:"RESOURCES_DIR" envDefault:""`

	ArchiveBucket     string `env:"ARCHIVE_BUCKET" envDefault:""`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	var archive storage.ObjectStore
	if cfg.ArchiveBucket != "" {
		archive, err = storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to create archive client: %v", err)
		}
	}

	reg := cmd.BuildRegistry(cfg.ResourcesDir)

	processor := runner.NewRunProcessor(db, reg, receiver, cfg.PlatformRoot, cfg.SnapshotRoot, archive, cfg.ArchiveBucket)

	if err := processor.EnsureArchive(context.Background()); err != nil {
		log.Fatalf("Failed to create archive bucket: %v", err)
	}

	go processor.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Worker process stopped.")
}
