package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/archive"
	"github.com/healthfolio/folio/internal/config"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/service"
	"github.com/healthfolio/folio/internal/storage"
)

// initStorage opens the local history cache with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath()
	}
	dbPath = config.ExpandPath(dbPath)

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newAPIClient builds the backend client from config.
func newAPIClient() (*api.Client, error) {
	cfg := api.Config{
		BaseURL: viper.GetString("api.base_url"),
		Token:   viper.GetString("api.token"),
		Timeout: viper.GetDuration("api.timeout"),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, nil
}

// loadFiles reads the named files into upload payloads.
func loadFiles(paths []string) ([]model.FilePayload, error) {
	payloads := make([]model.FilePayload, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(config.ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		payloads = append(payloads, model.FilePayload{
			Name:    filepath.Base(path),
			Content: content,
		})
	}
	return payloads, nil
}

// loadDirEntries walks a directory into packager entries, relative to its
// root. Hidden files and subdirectory markers are skipped.
func loadDirEntries(dir string) (string, []archive.Entry, error) {
	dir = config.ExpandPath(dir)

	info, err := os.Stat(dir)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("%s is not a directory", dir)
	}

	var entries []archive.Entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Base(path)[0] == '.' {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		entries = append(entries, archive.Entry{RelPath: rel, Content: content})
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	return filepath.Base(dir), entries, nil
}
