package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Validate checks all configuration values and returns the first violation.
// Called by Load before any component sees the config.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	if err := c.validateSchedules(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	return c.validateStorage()
}

func (c *Config) validateProvider() error {
	u, err := url.Parse(c.OllamaHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q must be an http(s) URL", ErrInvalidOllamaHost, c.OllamaHost)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOllamaHost, u.Scheme)
	}
	if strings.TrimSpace(c.EmbedModel) == "" {
		return fmt.Errorf("%w: embed_model is empty", ErrInvalidModel)
	}
	if strings.TrimSpace(c.ChatModel) == "" {
		return fmt.Errorf("%w: chat_model is empty", ErrInvalidModel)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.CacheCapacity < 1 || c.CacheCapacity > 100_000 {
		return fmt.Errorf("%w: %d not in [1, 100000]", ErrInvalidCacheCapacity, c.CacheCapacity)
	}
	if c.CacheTTL < time.Second {
		return fmt.Errorf("%w: %s below 1s", ErrInvalidCacheTTL, c.CacheTTL)
	}
	if c.CacheSweep < time.Second {
		return fmt.Errorf("%w: sweep interval %s below 1s", ErrInvalidCacheTTL, c.CacheSweep)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d not in [1, 100]", ErrInvalidTopK, c.TopK)
	}
	if c.EmbedInputLimit < 256 {
		return fmt.Errorf("%w: embed_input_limit %d below 256", ErrInvalidTopK, c.EmbedInputLimit)
	}
	return nil
}

func (c *Config) validateSchedules() error {
	if _, _, err := ParseTimeOfDay(c.FullReindexAt); err != nil {
		return fmt.Errorf("%w: full_reindex_at: %v", ErrInvalidSchedule, err)
	}
	if c.IncrementalEvery < time.Minute {
		return fmt.Errorf("%w: incremental_every %s below 1m", ErrInvalidSchedule, c.IncrementalEvery)
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.HistoryLimit < 2 || c.HistoryLimit > 1000 {
		return fmt.Errorf("%w: %d not in [2, 1000]", ErrInvalidHistoryLimit, c.HistoryLimit)
	}
	if c.HistoryContentMax < 100 {
		return fmt.Errorf("%w: history_content_max %d below 100", ErrInvalidHistoryLimit, c.HistoryContentMax)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.StorageDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("%w: data_dir is empty", ErrInvalidStorageDriver)
		}
	case DriverPostgres:
		if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
			return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgresConfig)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgresConfig, c.PostgresPort)
		}
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidStorageDriver,
			c.StorageDriver, DriverSQLite, DriverPostgres)
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %q out of range", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %q out of range", parts[1])
	}
	return hour, minute, nil
}
