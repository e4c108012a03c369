package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
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
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateProject()...)
	errors = append(errors, c.validateBuild()...)
	errors = append(errors, c.validateAnalysis()...)
	errors = append(errors, c.validateOutput()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateProject() ValidationErrors {
	var errors ValidationErrors

	if c.Project.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "project.path",
			Message: "path is required",
		})
	}

	if strings.ContainsAny(c.Project.Profile, " \t/") {
		errors = append(errors, ValidationError{
			Field:   "project.profile",
			Message: "profile must be a single profile name",
		})
	}

	return errors
}

func (c *Config) validateBuild() ValidationErrors {
	var errors ValidationErrors

	if c.Build.Command == "" {
		errors = append(errors, ValidationError{
			Field:   "build.command",
			Message: "command is required",
		})
	}

	if len(c.Build.Args) == 0 {
		errors = append(errors, ValidationError{
			Field:   "build.args",
			Message: "args must name a cargo subcommand",
		})
	} else if strings.HasPrefix(c.Build.Args[0], "-") {
		errors = append(errors, ValidationError{
			Field:   "build.args",
			Message: "the first argument must be a cargo subcommand such as 'build' or 'check'",
		})
	}

	if c.Build.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "build.timeout",
			Message: "timeout cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateAnalysis() ValidationErrors {
	var errors ValidationErrors

	if c.Analysis.Workers <= 0 {
		errors = append(errors, ValidationError{
			Field:   "analysis.workers",
			Message: "workers must be positive",
		})
	}

	if c.Analysis.HashCacheSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "analysis.hash_cache_size",
			Message: "hash_cache_size cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateOutput() ValidationErrors {
	var errors ValidationErrors

	validFormats := map[string]bool{"text": true, "json": true, "yaml": true, "": true}
	if !validFormats[c.Output.Format] {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Message: "format must be 'text', 'json', or 'yaml'",
		})
	}

	validColors := map[string]bool{"auto": true, "always": true, "never": true, "": true}
	if !validColors[c.Output.Color] {
		errors = append(errors, ValidationError{
			Field:   "output.color",
			Message: "color must be 'auto', 'always', or 'never'",
		})
	}

	if c.Output.Width < 0 {
		errors = append(errors, ValidationError{
			Field:   "output.width",
			Message: "width cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
