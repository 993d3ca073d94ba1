// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandArgs(t *testing.T) {
	ec := ExpandContext{
		Source:   "/data/sub-01.nii.gz",
		Input:    "/tmp/work/sub-01_skull_stripped.nii.gz",
		WorkDir:  "/tmp/work",
		BaseName: "sub-01",
		Output:   "/tmp/work/out.nii.gz",
		OutDir:   "/tmp/work/coregistration",
		Options:  map[string]string{"atlas": "/atlas/T1.nii.gz"},
	}

	got, err := ExpandArgs([]string{
		"--mri", "${source}",
		"--skull", "${input}",
		"--atlas", "${opt.atlas}",
		"-o", "${outdir}",
	}, ec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"--mri", "/data/sub-01.nii.gz",
		"--skull", "/tmp/work/sub-01_skull_stripped.nii.gz",
		"--atlas", "/atlas/T1.nii.gz",
		"-o", "/tmp/work/coregistration",
	}, got)
}

func TestExpandArgsUnknownPlaceholder(t *testing.T) {
	_, err := ExpandArgs([]string{"${nope}"}, ExpandContext{})
	require.ErrorIs(t, err, ErrUnknownPlaceholder)

	_, err = ExpandArgs([]string{"${opt.missing}"}, ExpandContext{Options: map[string]string{}})
	require.ErrorIs(t, err, ErrUnknownPlaceholder)
}

func TestExpandArgsEmbedded(t *testing.T) {
	got, err := ExpandArgs([]string{"${workdir}/reoriented"}, ExpandContext{WorkDir: "/w"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/reoriented"}, got)
}

func TestInferencePipelineShape(t *testing.T) {
	p := Inference()

	require.Len(t, p.Phases, 6)
	assert.Equal(t, InferenceName, p.Name)

	names := make([]string, 0, len(p.Phases))
	for i, ph := range p.Phases {
		assert.Equal(t, i, ph.Index)
		assert.Equal(t, 1.0, ph.Weight)
		names = append(names, ph.Name)
	}

	assert.Equal(t, []string{
		"synthstrip", "coregistration", "reorientation",
		"preprocess", "inference", "postprocess",
	}, names)
	assert.Equal(t, 6.0, p.TotalWeight())
}

func TestSkullStripVariants(t *testing.T) {
	for _, tool := range []string{ToolFslBet, ToolSynthStrip, ToolHdBet} {
		p, err := SkullStrip(tool)
		require.NoError(t, err)
		require.Len(t, p.Phases, 1)
		assert.NotEmpty(t, p.Phases[0].Output.Suffix)
	}

	_, err := SkullStrip("freesurfer")
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestApplyWeights(t *testing.T) {
	p := Inference()

	err := p.ApplyWeights(map[string]float64{"inference": 4, "reorientation": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Phases[4].Weight)
	assert.Equal(t, 0.5, p.Phases[2].Weight)
	assert.Equal(t, 8.5, p.TotalWeight())

	require.ErrorIs(t, p.ApplyWeights(map[string]float64{"nope": 1}), ErrUnknownPhase)
	require.ErrorIs(t, p.ApplyWeights(map[string]float64{"inference": -1}), ErrInvalidWeight)
}

func TestOutputSpecPaths(t *testing.T) {
	suffix := OutputSpec{Suffix: "_skull_stripped.nii.gz"}
	assert.Equal(t,
		filepath.Join("/w", "sub-01_skull_stripped.nii.gz"),
		suffix.PrimaryPath("/w", "sub-01"))

	glob := OutputSpec{Subdir: "coregistration", Glob: "*.nii*"}
	assert.Equal(t, filepath.Join("/w", "coregistration"), glob.Dir("/w"))
	assert.Empty(t, glob.PrimaryPath("/w", "sub-01"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "sub-01", BaseName("/data/sub-01.nii.gz"))
	assert.Equal(t, "sub-02", BaseName("sub-02.nii"))
	assert.Equal(t, "plain", BaseName("plain"))
}
