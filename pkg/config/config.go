// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration.
//
// Values come from, in increasing precedence:
//
//	built-in defaults → YAML file → HEARTH_* environment variables
//
// Environment names are the YAML path upper-cased with dots replaced by
// underscores: database.dsn is HEARTH_DATABASE_DSN, model.api_key is
// HEARTH_MODEL_API_KEY. List values take a comma-separated string. The
// tier table can only be set from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/AleutianAI/hearth/pkg/logging"
	"github.com/AleutianAI/hearth/services/orchestrator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HEARTH"

// File is the full configuration document. Service fields sit at the top
// level of the YAML; logging has its own section.
type File struct {
	Service orchestrator.Config `mapstructure:",squash"`
	Logging logging.Config      `mapstructure:"logging"`
}

// Load reads the configuration.
//
// # Description
//
// When path is empty, HEARTH_CONFIG is consulted, then ./hearth.yaml.
// A missing default file is not an error; a missing explicit file is.
// The result is validated before it is returned.
//
// # Outputs
//
//   - *File: Merged configuration. Service defaults not set here are
//     applied later by the service itself.
//   - error: Non-nil on unreadable files, bad values or failed validation.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.service", "hearth")

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hearth")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v, reflect.TypeOf(File{}), ""); err != nil {
		return nil, err
	}

	var file File
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &file, nil
}

// bindEnv registers every leaf key of t so AutomaticEnv can see keys that
// appear in neither the file nor the defaults. Maps are skipped.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if name == "" && !strings.Contains(opts, "squash") {
			name = strings.ToLower(field.Name)
		}
		key := prefix + name

		ft := field.Type
		switch {
		case ft.Kind() == reflect.Struct && strings.Contains(opts, "squash"):
			if err := bindEnv(v, ft, prefix); err != nil {
				return err
			}
		case ft.Kind() == reflect.Struct:
			if err := bindEnv(v, ft, key+"."); err != nil {
				return err
			}
		case ft.Kind() == reflect.Map, ft.Kind() == reflect.Interface, ft.Kind() == reflect.Func:
		default:
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("bind env for %s: %w", key, err)
			}
		}
	}
	return nil
}
