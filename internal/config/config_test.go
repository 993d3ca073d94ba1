// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYaml = `
name: pediatric batch
pipeline: inference
files:
  - /data/sub-01.nii.gz
  - /data/sub-02.nii.gz
options:
  atlas: /atlas/T1.nii.gz
phase_weights:
  inference: 4
grace_ms: 500
`

func TestLoadValid(t *testing.T) {
	def, err := Load([]byte(validYaml))
	require.NoError(t, err)

	assert.Equal(t, "pediatric batch", def.Name)
	assert.Len(t, def.Files, 2)
	assert.Equal(t, 500*time.Millisecond, def.Grace())

	p, err := def.BuildPipeline()
	require.NoError(t, err)
	assert.Equal(t, pipeline.InferenceName, p.Name)
	assert.Equal(t, 4.0, p.Phases[4].Weight)

	opts := def.ResolvedOptions()
	assert.Equal(t, "/atlas/T1.nii.gz", opts["atlas"], "job options override defaults")
	assert.Equal(t, "synthstrip.1.pt", opts["synthstrip_model"], "defaults preserved")
}

func TestLoadInvalidYaml(t *testing.T) {
	_, err := Load([]byte("files: [unclosed"))
	require.ErrorIs(t, err, ErrYamlUnmarshal)
}

func TestValidateEmptyFileList(t *testing.T) {
	_, err := Load([]byte("name: empty\nfiles: []\n"))
	require.ErrorIs(t, err, ErrEmptyFileList)
}

func TestValidateDuplicateFile(t *testing.T) {
	_, err := Load([]byte("files:\n  - /a.nii.gz\n  - /a.nii.gz\n"))
	require.ErrorIs(t, err, ErrDuplicateFile)
}

func TestValidateUnknownPipeline(t *testing.T) {
	_, err := Load([]byte("pipeline: freeform\nfiles:\n  - /a.nii.gz\n"))
	require.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestBuildSkullStripPipeline(t *testing.T) {
	def, err := Load([]byte("pipeline: skullstrip\ntool: hd-bet\nfiles:\n  - /a.nii.gz\n"))
	require.NoError(t, err)

	p, err := def.BuildPipeline()
	require.NoError(t, err)
	require.Len(t, p.Phases, 1)
	assert.Equal(t, "hd-bet", p.Phases[0].Name)
}

func TestBuildSkullStripDefaultsToSynthStrip(t *testing.T) {
	def, err := Load([]byte("pipeline: skullstrip\nfiles:\n  - /a.nii.gz\n"))
	require.NoError(t, err)

	p, err := def.BuildPipeline()
	require.NoError(t, err)
	assert.Equal(t, "synthstrip", p.Phases[0].Name)
}

func TestGraceDefault(t *testing.T) {
	def := &JobDefinition{Files: []string{"/a"}}
	assert.Equal(t, DefaultGrace, def.Grace())
}
