// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config defines the YAML job definition: the ordered subject file
// list, the pipeline selection and its tool-specific options. A definition
// that fails validation is the only fatal, pre-execution error in the
// engine; everything after submission is recovered per file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
)

const (
	// DefaultGrace is the time allowed for a process to exit after a
	// graceful-stop request before it is forcefully terminated.
	DefaultGrace = 2 * time.Second
)

var (
	// ErrYamlUnmarshal is returned when the job definition cannot be parsed.
	ErrYamlUnmarshal = errors.New("failed to unmarshal YAML job definition")
	// ErrEmptyFileList is returned when a job definition has no subject files.
	ErrEmptyFileList = errors.New("job definition has an empty file list")
	// ErrDuplicateFile is returned when the same subject path appears twice.
	ErrDuplicateFile = errors.New("job definition has a duplicate file path")
	// ErrUnknownPipeline is returned when the pipeline name is not recognized.
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

// JobDefinition is the user-facing description of one batch: which files to
// process, with which pipeline, and with which tool options.
type JobDefinition struct {
	Name         string             `yaml:"name"`
	Pipeline     string             `yaml:"pipeline"`      // "inference" (default) or "skullstrip"
	Tool         string             `yaml:"tool"`          // skull-strip tool variant, default "synthstrip"
	Files        []string           `yaml:"files"`         // ordered, unique subject paths
	Options      map[string]string  `yaml:"options"`       // tool-specific key/value options
	PhaseWeights map[string]float64 `yaml:"phase_weights"` // relative progress weight per phase name
	ToolPaths    map[string]string  `yaml:"tool_paths"`    // executable name -> absolute path override
	WorkspaceDir string             `yaml:"workspace_dir"` // parent for per-file scratch directories; default temp
	GraceMs      int                `yaml:"grace_ms"`      // cancel grace period, default 2000
	PhaseTimeout time.Duration      `yaml:"phase_timeout"` // optional per-process deadline, 0 = none
}

// Load parses a YAML job definition and validates it.
func Load(data []byte) (*JobDefinition, error) {
	def := new(JobDefinition)
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, errors.Join(ErrYamlUnmarshal, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

// Validate checks the definition for construction-time errors.
func (d *JobDefinition) Validate() error {
	if len(d.Files) == 0 {
		return ErrEmptyFileList
	}

	seen := make(map[string]struct{}, len(d.Files))

	for _, f := range d.Files {
		if _, ok := seen[f]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFile, f)
		}

		seen[f] = struct{}{}
	}

	switch d.Pipeline {
	case "", pipeline.InferenceName, pipeline.SkullStripName:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, d.Pipeline)
	}

	return nil
}

// Grace returns the configured cancel grace period.
func (d *JobDefinition) Grace() time.Duration {
	if d.GraceMs <= 0 {
		return DefaultGrace
	}

	return time.Duration(d.GraceMs) * time.Millisecond
}

// BuildPipeline resolves the definition's pipeline selection, applying any
// phase weight overrides.
func (d *JobDefinition) BuildPipeline() (*pipeline.Pipeline, error) {
	var (
		p   *pipeline.Pipeline
		err error
	)

	switch d.Pipeline {
	case "", pipeline.InferenceName:
		p = pipeline.Inference()
	case pipeline.SkullStripName:
		tool := d.Tool
		if tool == "" {
			tool = pipeline.ToolSynthStrip
		}

		p, err = pipeline.SkullStrip(tool)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, d.Pipeline)
	}

	if err := p.ApplyWeights(d.PhaseWeights); err != nil {
		return nil, err
	}

	return p, nil
}

// ResolvedOptions merges the definition's options over the built-in
// defaults consumed by the phase argument templates.
func (d *JobDefinition) ResolvedOptions() map[string]string {
	opts := pipeline.DefaultOptions()
	for k, v := range d.Options {
		opts[k] = v
	}

	return opts
}
