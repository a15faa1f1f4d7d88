package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Bounds for the move/rename pairing window.
const (
	MinWindowMs = 1
	MaxWindowMs = 5000
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateReconcile(&c.Reconcile)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	if c.WindowMs < MinWindowMs || c.WindowMs > MaxWindowMs {
		errs = append(errs, *RangeError("capture.window_ms", MinWindowMs, MaxWindowMs))
	}
	if c.SaveMarkerIntervalSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.save_marker_interval_sec",
			Message: "interval cannot be negative",
		})
	}
	for i, pattern := range c.Ignore {
		if !isValidGlobPattern(pattern) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capture.ignore[%d]", i),
				Message: fmt.Sprintf("invalid glob pattern: %q", pattern),
			})
		}
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case "sqlite", "wal":
		if s.Path == "" {
			errs = append(errs, *RequiredFieldError("storage.path"))
		}
	case "postgres":
		if s.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "storage.dsn",
				Message: "dsn is required when type is 'postgres'",
			})
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %s (valid: sqlite, wal, postgres, memory)", s.Type),
		})
	}
	return errs
}

var reconcilePolicies = map[string][]string{
	"modified":  {"accept-changes", "recreate"},
	"untracked": {"create", "delete"},
	"missing":   {"accept-delete", "recreate"},
}

func validateReconcile(r *ReconcileConfig) ValidationErrors {
	var errs ValidationErrors
	check := func(category, value string) {
		valid := reconcilePolicies[category]
		for _, v := range valid {
			if v == value {
				return
			}
		}
		errs = append(errs, ValidationError{
			Field:   "reconcile." + category,
			Message: fmt.Sprintf("invalid policy: %s (valid: %s)", value, strings.Join(valid, ", ")),
		})
	}
	check("modified", r.Modified)
	check("untracked", r.Untracked)
	check("missing", r.Missing)
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	return errs
}

// Ignore globs are matched against slash-separated project paths.
func isValidGlobPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	_, err := path.Match(pattern, "test")
	return err == nil
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
