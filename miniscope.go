// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package miniscope normalizes Miniscope recording folders into
// devices, notes and time indexed video series.
package miniscope

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"miniscope/pkg/builder"
	"miniscope/pkg/config"
	"miniscope/pkg/layout"
	"miniscope/pkg/log"
)

// Convert normalizes one recording folder.
func Convert(folder string, cfg *config.Config, logger *log.Logger) (*builder.Bundle, error) {
	l, err := layout.Detect(folder, cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug().Src("app").Recording(folder).Msgf("detected %v layout", l.Kind())

	return builder.Build(l, cfg, logger)
}

// ConvertFile normalizes one recording folder with the configuration
// in configPath. An empty path uses the default configuration.
func ConvertFile(folder string, configPath string, logger *log.Logger) (*builder.Bundle, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return Convert(folder, cfg, logger)
}

// App converts batches of recording folders and keeps their logs.
type App struct {
	Logger *log.Logger

	cfg   *config.Config
	logDB *log.DB
}

// ErrNoLogDB logs aren't persisted.
var ErrNoLogDB = errors.New("no log database")

// NewApp starts the logger and opens the log database in logDir.
// Both are stopped when the context is canceled. Logs aren't
// persisted if logDir is empty.
func NewApp(ctx context.Context, cfg *config.Config, logDir string, wg *sync.WaitGroup) (*App, error) {
	logger := log.NewLogger(wg)
	logger.Start(ctx)

	if logDir == "" {
		return &App{Logger: logger, cfg: cfg}, nil
	}

	logDB := log.NewDB(filepath.Join(logDir, "logs.db"), wg)
	if err := logDB.Init(ctx); err != nil {
		return nil, fmt.Errorf("init log database: %w", err)
	}
	logDB.SaveLogs(ctx, logger)

	return &App{
		Logger: logger,
		cfg:    cfg,
		logDB:  logDB,
	}, nil
}

// Convert normalizes every folder. A failed folder doesn't stop the
// others, the returned bundles are nil for failed folders.
func (a *App) Convert(folders ...string) ([]*builder.Bundle, error) {
	bundles := make([]*builder.Bundle, len(folders))
	var errs []error
	for i, folder := range folders {
		bundle, err := Convert(folder, a.cfg, a.Logger)
		if err != nil {
			a.Logger.Error().Src("app").Recording(folder).Msgf("conversion failed: %v", err)
			errs = append(errs, fmt.Errorf("%v: %w", folder, err))
			continue
		}
		bundles[i] = bundle
	}
	return bundles, errors.Join(errs...)
}

// Logs queries the log database.
func (a *App) Logs(q log.Query) ([]log.Log, error) {
	if a.logDB == nil {
		return nil, ErrNoLogDB
	}
	return a.logDB.Query(q)
}
