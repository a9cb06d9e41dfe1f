// Package config loads process configuration from the environment, with
// an optional .env file read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DeviceRole governs initiator-side clipboard buffer capacity; it has no
// other effect on the core.
type DeviceRole string

const (
	RoleMobile  DeviceRole = "mobile"
	RoleDesktop DeviceRole = "desktop"
)

// BufferCapacity returns the clipboard item history size for this role.
func (r DeviceRole) BufferCapacity() int {
	if r == RoleMobile {
		return 10
	}
	return 5
}

// Config is the full set of environment-derived settings this process
// reads at startup. There is no flag parsing; every field comes from an
// environment variable, optionally populated from a .env file.
type Config struct {
	ListenPort      int
	DeviceRole      DeviceRole
	DeviceName      string
	StatusAddr      string
	LogLevel        logrus.Level
	StoreDir        string
}

const (
	envListenPort = "UCLIP_LISTEN_PORT"
	envDeviceRole = "UCLIP_DEVICE_ROLE"
	envDeviceName = "UCLIP_DEVICE_NAME"
	envStatusAddr = "UCLIP_STATUS_ADDR"
	envLogLevel   = "UCLIP_LOG_LEVEL"
	envStoreDir   = "UCLIP_STORE_DIR"
)

const defaultListenPort = 9876

// Load reads a .env file from the current directory if one exists (silently
// ignored if absent), then builds a Config from the environment, applying
// defaults for anything unset.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{"function": "config.Load"}).Warn("failed to read .env: ", err)
	}

	cfg := Config{
		ListenPort: defaultListenPort,
		DeviceRole: RoleDesktop,
		DeviceName: defaultDeviceName(),
		StatusAddr: "127.0.0.1:9877",
		LogLevel:   logrus.InfoLevel,
		StoreDir:   defaultStoreDir(),
	}

	if v := os.Getenv(envListenPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid %s: %w", envListenPort, err)
		}
		cfg.ListenPort = port
	}

	if v := os.Getenv(envDeviceRole); v != "" {
		role := DeviceRole(strings.ToLower(v))
		if role != RoleMobile && role != RoleDesktop {
			return Config{}, fmt.Errorf("config: invalid %s: %q", envDeviceRole, v)
		}
		cfg.DeviceRole = role
	}

	if v := os.Getenv(envDeviceName); v != "" {
		cfg.DeviceName = v
	}

	if v := os.Getenv(envStatusAddr); v != "" {
		cfg.StatusAddr = v
	}

	if v := os.Getenv(envStoreDir); v != "" {
		cfg.StoreDir = v
	}

	if v := os.Getenv(envLogLevel); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid %s: %w", envLogLevel, err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

func defaultDeviceName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "universal-clipboard"
	}
	return name
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".uclip"
	}
	return dir + "/uclip"
}
