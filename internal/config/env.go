// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment overrides, applied on top of the YAML file
const (
	EnvHTTP         = "LIGHTING_HTTP"
	EnvMQTTBroker   = "LIGHTING_MQTT_BROKER"
	EnvMQTTUsername = "LIGHTING_MQTT_USERNAME"
	EnvMQTTPassword = "LIGHTING_MQTT_PASSWORD"
	EnvLibraryPath  = "LIGHTING_LIBRARY_PATH"
)

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// applyEnv overrides config values from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHTTP); v != "" {
		c.Server.HTTP = v
	}
	if v := os.Getenv(EnvLibraryPath); v != "" {
		c.Library.Path = v
	}
	if c.MQTT == nil {
		return
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvMQTTUsername); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
}
