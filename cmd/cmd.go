// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmd contains the command-line interface (CLI) for the module.
package cmd

import (
	"os"

	"github.com/matt-FFFFFF/neurobatch/cmd/run"
	"github.com/matt-FFFFFF/neurobatch/cmd/show"
	"github.com/urfave/cli/v3"
)

// RootCmd is the root command for the CLI.
var RootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.RunCmd,
		show.ShowCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "neurobatch",
	Description: `Neurobatch drives batches of neuroimaging subject files through a fixed
pipeline of external tools: skull-stripping, atlas coregistration, reorientation,
preprocessing, deep-learning inference and postprocessing. Failures are isolated
per file, progress is aggregated into a single weighted percentage, and a batch
can be cancelled cooperatively at any point without leaking tool processes.`,
	Usage:     "neurobatch run myjob.yaml",
	Copyright: "Copyright (c) matt-FFFFFF 2025. All rights reserved.",
	Authors: []any{
		"Matt White (matt-FFFFFF)",
	},
	EnableShellCompletion: true,
}
