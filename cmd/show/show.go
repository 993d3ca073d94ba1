// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package show contains commands for inspecting the built-in pipelines and
// previously saved batch results.
package show

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matt-FFFFFF/neurobatch/internal/color"
	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
	"github.com/matt-FFFFFF/neurobatch/internal/runbatch"
	"github.com/urfave/cli/v3"
)

const fileArg = "file"

var (
	// ErrReadFile is returned when the result file cannot be read.
	ErrReadFile = errors.New("failed to read file")
	// ErrDecodeResults is returned when the results cannot be decoded.
	ErrDecodeResults = errors.New("failed to decode results")
)

// ShowCmd groups the inspection subcommands.
var ShowCmd = &cli.Command{
	Name:        "show",
	Description: "Inspect the built-in pipelines or a previously saved batch result.",
	Commands: []*cli.Command{
		pipelinesCmd,
		resultCmd,
	},
}

var pipelinesCmd = &cli.Command{
	Name:        "pipelines",
	Description: "List the built-in pipelines with their phases and expected artifacts.",
	Action: func(_ context.Context, cmd *cli.Command) error {
		writePipeline(cmd, pipeline.Inference())

		for _, tool := range []string{pipeline.ToolFslBet, pipeline.ToolSynthStrip, pipeline.ToolHdBet} {
			p, err := pipeline.SkullStrip(tool)
			if err != nil {
				return err
			}

			p.Name = fmt.Sprintf("%s (%s)", p.Name, tool)
			writePipeline(cmd, p)
		}

		return nil
	},
}

var resultCmd = &cli.Command{
	Name:        "result",
	Description: "Show a batch result previously saved with 'run --out'.",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name: fileArg,
		},
	},
	Action: func(_ context.Context, cmd *cli.Command) error {
		data, err := os.ReadFile(cmd.StringArg(fileArg))
		if err != nil {
			return errors.Join(ErrReadFile, err)
		}

		var res runbatch.BatchResult
		if err := json.Unmarshal(data, &res); err != nil {
			return errors.Join(ErrDecodeResults, err)
		}

		fmt.Fprint(cmd.Writer, runbatch.FormatResult(&res))

		return nil
	},
}

func writePipeline(cmd *cli.Command, p *pipeline.Pipeline) {
	fmt.Fprintln(cmd.Writer, color.Colorize(p.Name, color.Bold, color.Underline))

	for _, ph := range p.Phases {
		fmt.Fprintf(cmd.Writer, "  %d. %s\n", ph.Index+1, color.Colorize(ph.Title, color.Bold))
		fmt.Fprintf(cmd.Writer, "     %s %s\n", ph.Executable, strings.Join(ph.Args, " "))

		switch {
		case ph.Output.Suffix != "":
			fmt.Fprintf(cmd.Writer, "     artifact: <base>%s\n", ph.Output.Suffix)
		default:
			fmt.Fprintf(cmd.Writer, "     artifact: %s/%s\n", ph.Output.Subdir, ph.Output.Glob)
		}
	}

	fmt.Fprintln(cmd.Writer)
}
