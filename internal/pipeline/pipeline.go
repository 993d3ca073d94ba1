// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrUnknownPlaceholder is returned when an argument template references a
	// placeholder that cannot be resolved.
	ErrUnknownPlaceholder = errors.New("unknown placeholder in argument template")
	// ErrUnknownPhase is returned when a weight override names a phase that is
	// not part of the pipeline.
	ErrUnknownPhase = errors.New("unknown phase name")
	// ErrUnknownTool is returned when a skull-strip tool variant is not recognized.
	ErrUnknownTool = errors.New("unknown skull-strip tool")
	// ErrInvalidWeight is returned when a weight override is not positive.
	ErrInvalidWeight = errors.New("phase weight must be positive")
)

// OutputSpec describes where a phase is expected to leave its artifact after
// a zero exit code. Exactly one of Suffix or Glob is set: Suffix names a
// single file derived from the subject base name, Glob matches one or more
// files produced under Subdir.
type OutputSpec struct {
	Subdir string // subdirectory of the task working directory; "" is the working directory itself
	Suffix string // expected file is "<base><Suffix>" inside Subdir
	Glob   string // glob pattern matched inside Subdir
}

// Dir returns the absolute directory the phase writes its artifact into.
func (o OutputSpec) Dir(workDir string) string {
	if o.Subdir == "" {
		return workDir
	}

	return filepath.Join(workDir, o.Subdir)
}

// PrimaryPath returns the expected artifact path for suffix-form outputs, or
// an empty string for glob-form outputs (which are discovered after the run).
func (o OutputSpec) PrimaryPath(workDir, base string) string {
	if o.Suffix == "" {
		return ""
	}

	return filepath.Join(o.Dir(workDir), base+o.Suffix)
}

// Phase is one ordered, fixed-identity stage of a pipeline, implemented by a
// single external executable invocation. Phases are immutable for the
// lifetime of a run.
type Phase struct {
	Index      int
	Name       string   // stable identifier, e.g. "coregistration"
	Title      string   // human-readable, e.g. "Coregistration with atlas"
	Executable string   // binary name, resolved against PATH or tool-path overrides
	Args       []string // argument template tokens, may contain ${...} placeholders
	Output     OutputSpec
	Weight     float64 // relative progress weight; 1 unless overridden
}

// Pipeline is a statically enumerated, ordered list of phases.
type Pipeline struct {
	Name   string
	Phases []Phase
}

// TotalWeight returns the sum of all phase weights.
func (p *Pipeline) TotalWeight() float64 {
	var total float64
	for _, ph := range p.Phases {
		total += ph.Weight
	}

	return total
}

// Weights returns the per-phase weight slice in phase order.
func (p *Pipeline) Weights() []float64 {
	ws := make([]float64, len(p.Phases))
	for i, ph := range p.Phases {
		ws[i] = ph.Weight
	}

	return ws
}

// ApplyWeights overrides phase weights by phase name. Phases not named keep
// their current weight. Unknown names and non-positive weights are errors.
func (p *Pipeline) ApplyWeights(overrides map[string]float64) error {
	for name, w := range overrides {
		if w <= 0 {
			return fmt.Errorf("%w: %s=%g", ErrInvalidWeight, name, w)
		}

		found := false

		for i := range p.Phases {
			if p.Phases[i].Name == name {
				p.Phases[i].Weight = w
				found = true

				break
			}
		}

		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownPhase, name)
		}
	}

	return nil
}

// BaseName strips the NIfTI extensions from a subject file name.
func BaseName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".nii.gz")
	base = strings.TrimSuffix(base, ".nii")

	return base
}

// ExpandContext carries the per-invocation values substituted into a phase's
// argument template.
type ExpandContext struct {
	Source   string            // the original subject file
	Input    string            // primary artifact of the previous phase, or Source for the first phase
	WorkDir  string            // the file task's scratch directory
	BaseName string            // subject base name without NIfTI extensions
	Output   string            // expected artifact path (suffix-form outputs only)
	OutDir   string            // the phase's output directory
	Options  map[string]string // tool-specific key/value options
}

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z][a-zA-Z0-9_.]*)\}`)

// ExpandArgs substitutes placeholders in the argument template. Recognized
// placeholders are ${source}, ${input}, ${workdir}, ${basename}, ${output},
// ${outdir} and ${opt.KEY} for configuration options.
func ExpandArgs(args []string, ec ExpandContext) ([]string, error) {
	out := make([]string, 0, len(args))

	for _, arg := range args {
		var expandErr error

		expanded := placeholderRe.ReplaceAllStringFunc(arg, func(tok string) string {
			key := placeholderRe.FindStringSubmatch(tok)[1]

			val, err := resolve(key, ec)
			if err != nil && expandErr == nil {
				expandErr = err
			}

			return val
		})

		if expandErr != nil {
			return nil, expandErr
		}

		out = append(out, expanded)
	}

	return out, nil
}

func resolve(key string, ec ExpandContext) (string, error) {
	switch key {
	case "source":
		return ec.Source, nil
	case "input":
		return ec.Input, nil
	case "workdir":
		return ec.WorkDir, nil
	case "basename":
		return ec.BaseName, nil
	case "output":
		return ec.Output, nil
	case "outdir":
		return ec.OutDir, nil
	}

	if opt, ok := strings.CutPrefix(key, "opt."); ok {
		if val, ok := ec.Options[opt]; ok {
			return val, nil
		}

		return "", fmt.Errorf("%w: ${opt.%s}", ErrUnknownPlaceholder, opt)
	}

	return "", fmt.Errorf("%w: ${%s}", ErrUnknownPlaceholder, key)
}
