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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/opfuse/services/fusion/catalog"
)

var (
	// ErrInvalidConfig is returned when a config fails validation.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrReadConfig is returned when a config file cannot be read or parsed.
	ErrReadConfig = errors.New("read config")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("catalog_pattern", func(fl validator.FieldLevel) bool {
			_, ok := catalog.Lookup(fl.Field().String())
			return ok
		})
	})
	return validate
}

// Load reads the YAML file at path over DefaultConfig and validates the
// result. An empty path returns the validated defaults.
//
// Errors:
//
//	ErrReadConfig    - The file is missing, unreadable or not valid YAML,
//	                   or names an unknown key.
//	ErrInvalidConfig - A value is out of range.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrReadConfig, path, err)
		}
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every field of cfg.
//
// Errors:
//
//	ErrInvalidConfig - Wraps one line per failing field, named by its
//	                   YAML path, e.g. "driver.workers".
func Validate(cfg *Config) error {
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "catalog_pattern":
		return fmt.Sprintf("%s: unknown pattern %q", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: %v is not one of [%s]", path, fe.Value(), fe.Param())
	case "required_if", "required":
		return fmt.Sprintf("%s: required", path)
	case "unique":
		return fmt.Sprintf("%s: duplicate entries", path)
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s: %v fails %s=%s", path, fe.Value(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s: fails %s", path, fe.Tag())
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left alone.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	cfg := DefaultConfig()
	data, err := Marshal(&cfg)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
