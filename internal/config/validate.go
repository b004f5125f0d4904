package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/logging"
)

// ValidationResult splits validation errors into those that must stop
// startup and those that were logged or auto-corrected.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate checks the config for invalid values and returns all errors found.
// Out-of-range numbers are clamped to safe values.
func (c *Config) Validate() []error {
	r := c.ValidateTiered()
	return append(r.Fatals, r.Warnings...)
}

// ValidateTiered validates and clamps the config. A malformed render adapter
// LUID is fatal because it would silently mark every monitor unsupported.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.RenderAdapter != "" {
		if _, err := dxgi.ParseLUID(c.RenderAdapter); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("render_adapter: %w", err))
		}
	}

	seen := make(map[int]bool, len(c.Monitors))
	for _, id := range c.Monitors {
		if id < 0 {
			r.Fatals = append(r.Fatals, fmt.Errorf("monitors: id %d is negative", id))
		} else if seen[id] {
			r.Warnings = append(r.Warnings, fmt.Errorf("monitors: id %d listed twice", id))
		}
		seen[id] = true
	}

	c.FrameRate = clamp(&r, "frame_rate", c.FrameRate, 1, 240)
	c.Workers = clamp(&r, "workers", c.Workers, 1, 16)
	c.StatusIntervalSeconds = clamp(&r, "status_interval_seconds", c.StatusIntervalSeconds, 1, 3600)
	c.ReinitializeDelayMs = clamp(&r, "reinitialize_delay_ms", c.ReinitializeDelayMs, 0, 60000)
	c.LogMaxSizeMB = clamp(&r, "log_max_size_mb", c.LogMaxSizeMB, 1, 1024)
	c.LogMaxBackups = clamp(&r, "log_max_backups", c.LogMaxBackups, 1, 50)

	if !logging.ValidLevel(c.LogLevel) {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if !logging.ValidFormat(c.LogFormat) {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}

// Captures reports whether monitor id is selected by the monitors filter.
func (c *Config) Captures(id int) bool {
	if len(c.Monitors) == 0 {
		return true
	}
	for _, m := range c.Monitors {
		if m == id {
			return true
		}
	}
	return false
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
