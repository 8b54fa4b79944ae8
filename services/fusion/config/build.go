// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/opfuse/pkg/logging"
	"github.com/AleutianAI/opfuse/services/fusion/cache"
	"github.com/AleutianAI/opfuse/services/fusion/catalog"
	"github.com/AleutianAI/opfuse/services/fusion/driver"
	badgerstore "github.com/AleutianAI/opfuse/services/fusion/storage/badger"
)

// Options converts the driver section into driver options.
//
// Errors:
//
//	driver.ErrInvalidOrder - Order is not a known visit order.
func (c DriverConfig) Options() ([]driver.Option, error) {
	order, err := driver.ParseOrder(c.Order)
	if err != nil {
		return nil, err
	}
	return []driver.Option{driver.WithWorkers(c.Workers), driver.WithOrder(order)}, nil
}

// Catalog returns the catalog selection for the patterns section.
func (c PatternsConfig) Catalog() catalog.Config {
	return catalog.Config{Enabled: c.Enabled, MaxRepetition: c.MaxRepetition}
}

// Open opens the match cache described by the section. A disabled cache
// returns nil and no error.
func (c CacheConfig) Open(logger *slog.Logger) (*cache.Store, error) {
	if !c.Enabled {
		return nil, nil
	}
	opts := []cache.Option{cache.WithTTL(c.TTL), cache.WithLogger(logger)}
	if c.InMemory {
		return cache.OpenInMemory(opts...)
	}
	dbCfg := badgerstore.DefaultConfig()
	dbCfg.Path = c.Path
	dbCfg.Logger = logger
	return cache.Open(dbCfg, opts...)
}

// LoggerConfig converts the logging section for the named service.
func (c LoggingConfig) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("logging.level: %w", err)
	}
	return logging.Config{
		Level:   level,
		JSON:    c.Format == "json",
		File:    c.File,
		Service: service,
	}, nil
}
