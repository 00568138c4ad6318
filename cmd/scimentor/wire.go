package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/blob"
	"github.com/basamba1990/scimentor-ai/internal/database"
	"github.com/basamba1990/scimentor-ai/internal/llm"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

// app holds the wired components for one command invocation.
type app struct {
	db   *database.DB
	orch *pipeline.Orchestrator
	logs *os.File
}

func openApp(ctx context.Context) (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}

	store, err := database.NewCachedStore(db, cfg.Storage.RecordCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	blobs, err := openBlobs()
	if err != nil {
		db.Close()
		return nil, err
	}

	provider, err := llm.CreateProvider(ctx, llm.Options{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		APIKeyEnv:         cfg.LLM.APIKeyEnv,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout(),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	orch := pipeline.New(llm.NewInvoker(provider, cfg.LLM.Timeout()), store, blobs)
	return &app{db: db, orch: orch}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

// logFile opens <data_dir>/scimentor.log for commands that own the terminal.
func (a *app) logFile() io.Writer {
	path := filepath.Join(cfg.GetDataDir(), "scimentor.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return io.Discard
	}
	a.logs = f
	return f
}

func openDB() (*database.DB, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		dsn := cfg.PostgresDSN()
		if dsn == "" {
			return nil, fmt.Errorf("storage.driver is postgres but %s is not set", cfg.Storage.DSNEnv)
		}
		return database.OpenPostgres(dsn)
	default:
		return database.Open(cfg.DatabasePath())
	}
}

func openBlobs() (blob.Store, error) {
	switch strings.ToLower(cfg.Blobs.Backend) {
	case "s3":
		access, secret := cfg.S3Credentials()
		return blob.NewS3Store(blob.S3Config{
			Endpoint:  cfg.Blobs.Endpoint,
			Region:    cfg.Blobs.Region,
			AccessKey: access,
			SecretKey: secret,
			Bucket:    cfg.Blobs.Bucket,
			UseSSL:    cfg.Blobs.UseSSL,
		})
	default:
		return blob.NewLocalStore(cfg.BlobDir())
	}
}

// blobLocation describes where documents are kept for status output.
func blobLocation(store blob.Store) string {
	switch s := store.(type) {
	case *blob.LocalStore:
		return s.Root()
	case *blob.S3Store:
		return fmt.Sprintf("s3://%s (%s)", s.Bucket(), cfg.Blobs.Endpoint)
	default:
		return fmt.Sprintf("%T", store)
	}
}
