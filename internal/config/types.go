// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Transport TransportConfig        `yaml:"transport"`
	State     StateConfig            `yaml:"state"`
	Animation AnimationConfig        `yaml:"animation"`
	Library   LibraryConfig          `yaml:"library"`
	Modbus    *ModbusConfig          `yaml:"modbus,omitempty"`
	MQTT      *MQTTConfig            `yaml:"mqtt,omitempty"`
	Schedule  *ScheduleConfig        `yaml:"schedule,omitempty"`
	Fixtures  []Fixture              `yaml:"fixtures"`
	Groups    map[string]GroupConfig `yaml:"groups,omitempty"` // group name -> members
}

// ServerConfig defines server endpoints
type ServerConfig struct {
	HTTP string `yaml:"http"`
}

// Transport types
const (
	TransportLog  = "log"  // log commands only (simulation)
	TransportExec = "exec" // run a fixture CLI per command
	TransportMQTT = "mqtt" // publish commands on the MQTT broker
)

// TransportConfig defines how fixture commands leave the engine
type TransportConfig struct {
	Type            string `yaml:"type"`
	Command         string `yaml:"command,omitempty"` // exec transport binary
	TimeoutMs       int    `yaml:"timeout_ms"`
	QueueSize       int    `yaml:"queue_size"`
	MaxTransitionMs int    `yaml:"max_transition_ms"`
}

// StateConfig defines state cache behaviour
type StateConfig struct {
	ThrottleMs int `yaml:"throttle_ms"` // Minimum interval between subscriber broadcasts
	RefreshMs  int `yaml:"refresh_ms"`  // Periodic resend of cached state (0 = disabled)
}

// AnimationConfig defines the animation loop
type AnimationConfig struct {
	IntervalMs        int     `yaml:"interval_ms"`
	DefaultBrightness float64 `yaml:"default_brightness"`
}

// LibraryConfig defines theme library storage
type LibraryConfig struct {
	Path string `yaml:"path"` // bbolt file, empty = library disabled
}

// ModbusConfig defines Modbus TCP server settings
// Presence of this section enables Modbus
type ModbusConfig struct {
	Port string `yaml:"port"` // ":502" or ":5020"
}

// MQTTConfig defines MQTT client settings
// Presence of this section enables MQTT
type MQTTConfig struct {
	Broker      string `yaml:"broker"`       // tcp://host:1883
	ClientID    string `yaml:"client_id"`    // optional
	Username    string `yaml:"username"`     // optional
	Password    string `yaml:"password"`     // optional
	TopicPrefix string `yaml:"topic_prefix"` // defaults to "lights"
}

// ScheduleConfig defines scheduler settings
type ScheduleConfig struct {
	Timezone  string          `yaml:"timezone"` // e.g. "Europe/Paris", defaults to local
	Latitude  float64         `yaml:"latitude"`
	Longitude float64         `yaml:"longitude"`
	Events    []ScheduleEvent `yaml:"events"`
}

// ScheduleEvent defines a scheduled action
type ScheduleEvent struct {
	Time       string   `yaml:"time"`                 // "HH:MM[:SS]", "sunrise", "sunset-00:30"
	Theme      string   `yaml:"theme,omitempty"`      // library theme id
	Brightness *float64 `yaml:"brightness,omitempty"` // master brightness 0-1
	Power      *bool    `yaml:"power,omitempty"`      // all fixtures on/off
}

// Fixture defines a single addressable light
type Fixture struct {
	ID          string `yaml:"id"`
	Address     string `yaml:"address"`
	Label       string `yaml:"label,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// GroupConfig defines a named set of fixtures sharing a dimmer
type GroupConfig struct {
	Fixtures   []string `yaml:"fixtures"`
	Brightness *float64 `yaml:"brightness,omitempty"` // default 1
}
