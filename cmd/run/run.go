// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run contains the command that submits a batch job and streams its
// progress, either as a live terminal view or as structured log output.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-getter/v2"
	"github.com/joho/godotenv"
	"github.com/matt-FFFFFF/neurobatch/internal/bus"
	"github.com/matt-FFFFFF/neurobatch/internal/config"
	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
	"github.com/matt-FFFFFF/neurobatch/internal/progress"
	"github.com/matt-FFFFFF/neurobatch/internal/runbatch"
	"github.com/matt-FFFFFF/neurobatch/internal/signalbroker"
	"github.com/matt-FFFFFF/neurobatch/internal/tui"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

const (
	fileArg          = "file"
	outFlag          = "out"
	noTuiFlag        = "no-tui"
	envFileFlag      = "env-file"
	workspaceFlag    = "workspace"
	natsURLFlag      = "nats-url"
	natsSubjectFlag  = "nats-subject-prefix"
	cliExitStr       = "batch finished with failures"
	cliExitCancelled = "batch cancelled"
)

var (
	// ErrGetConfigFile is returned when the job definition cannot be fetched.
	ErrGetConfigFile = errors.New("failed to get job definition file")
)

// RunCmd submits and runs a batch job defined in a YAML file.
var RunCmd = &cli.Command{
	Name: "run",
	Description: `Run a batch job defined in a YAML file.

Job file URLs use Hashicorp's go-getter syntax, which allows for fetching files
from various sources. See https://github.com/hashicorp/go-getter.`,
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      fileArg,
			UsageText: "YAMLFILE",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    outFlag,
			Aliases: []string{"o"},
			Usage:   "Write the batch result as JSON to this file",
		},
		&cli.BoolFlag{
			Name:  noTuiFlag,
			Usage: "Disable the live terminal view and emit log lines instead",
		},
		&cli.StringFlag{
			Name:  envFileFlag,
			Usage: "Load environment variables for the tools from this dotenv file",
		},
		&cli.StringFlag{
			Name:  workspaceFlag,
			Usage: "Override the workspace directory for per-file scratch directories",
		},
		&cli.StringFlag{
			Name:    natsURLFlag,
			Usage:   "Mirror file and batch completion events to this NATS server",
			Sources: cli.EnvVars("NEUROBATCH_NATS_URL"),
		},
		&cli.StringFlag{
			Name:    natsSubjectFlag,
			Usage:   "Subject prefix for mirrored NATS events",
			Value:   bus.DefaultSubjectPrefix,
			Sources: cli.EnvVars("NEUROBATCH_NATS_SUBJECT_PREFIX"),
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	ctx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()

	logger := ctxlog.Logger(ctx)

	src := cmd.StringArg(fileArg)
	if src == "" {
		return cli.Exit("Please provide a YAML job definition to run", 1)
	}

	if envFile := cmd.String(envFileFlag); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return cli.Exit(fmt.Sprintf("failed to load env file %s: %s", envFile, err.Error()), 1)
		}
	}

	data, err := getURL(ctx, src)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to get job definition %s: %s", src, err.Error()), 1)
	}

	def, err := config.Load(data)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid job definition %s: %s", src, err.Error()), 1)
	}

	if ws := cmd.String(workspaceFlag); ws != "" {
		def.WorkspaceDir = ws
	}

	var pub *bus.Publisher

	if natsURL := cmd.String(natsURLFlag); natsURL != "" {
		pub, err = bus.Connect(ctx, natsURL, cmd.String(natsSubjectFlag))
		if err != nil {
			return cli.Exit("failed to connect to NATS: "+err.Error(), 1)
		}

		defer pub.Close()
	}

	engine := runbatch.NewEngine()

	h, err := engine.Submit(ctx, def)
	if err != nil {
		return cli.Exit("failed to submit job: "+err.Error(), 1)
	}

	logger.Info("job submitted", "jobId", h.ID, "files", len(def.Files))

	// First signal asks the batch to stop cooperatively; a repeat forces
	// termination through the context.
	sigCh := signalbroker.New(ctx)

	go signalbroker.Watch(ctx, sigCh, h.Cancel, hardCancel)

	if useTui(cmd) {
		runWithTui(ctx, cmd, def, h, pub)
	} else {
		consumeEvents(ctx, h, pub)
	}

	res, runErr := h.Wait(ctx)
	if res == nil {
		return cli.Exit("batch did not produce a result: "+runErr.Error(), 1)
	}

	fmt.Fprint(cmd.Writer, runbatch.FormatResult(res))

	if outFile := cmd.String(outFlag); outFile != "" {
		if err := writeResultFile(outFile, res); err != nil {
			return cli.Exit("failed to write result file: "+err.Error(), 1)
		}
	}

	switch {
	case res.Cancelled:
		return cli.Exit(cliExitCancelled, 1)
	case runErr != nil:
		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

func useTui(cmd *cli.Command) bool {
	if cmd.Bool(noTuiFlag) {
		return false
	}

	f, ok := cmd.Writer.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}

func runWithTui(ctx context.Context, cmd *cli.Command, def *config.JobDefinition, h *runbatch.Handle, pub *bus.Publisher) {
	prog := tui.NewProgram(len(def.Files), h.Cancel, tea.WithOutput(cmd.Writer))

	go func() {
		for e := range h.Events() {
			publish(ctx, pub, e)
			prog.Send(tui.EventMsg{Event: e})
		}
	}()

	if _, err := prog.Run(); err != nil {
		ctxlog.Logger(ctx).Error("terminal view failed", "error", err)

		// Fall back to draining the stream so the batch can finish.
		consumeEvents(ctx, h, nil)
	}
}

// consumeEvents drains the job's event stream, logging progress and tool
// output.
func consumeEvents(ctx context.Context, h *runbatch.Handle, pub *bus.Publisher) {
	logger := ctxlog.Logger(ctx)
	lastPercent := -1

	for e := range h.Events() {
		publish(ctx, pub, e)

		switch e.Type {
		case progress.EventPhaseStarted:
			logger.Info("phase started",
				"file", e.FilePath, "phase", e.PhaseName, "status", e.Status)
		case progress.EventProgress:
			if e.Percent != lastPercent {
				lastPercent = e.Percent
				logger.Info("progress", "percent", e.Percent, "phase", e.PhaseName)
			}
		case progress.EventLogLine:
			logger.Debug("tool output", "phase", e.PhaseName, "line", e.Line)
		case progress.EventPhaseCompleted:
			if e.Failed {
				logger.Warn("phase failed", "file", e.FilePath, "phase", e.PhaseName, "error", e.Err)
			}
		case progress.EventFileCompleted:
			logger.Info("file completed", "file", e.FilePath, "failed", e.Failed)
		case progress.EventBatchCompleted:
			logger.Info("batch completed", "failed", e.Failed, "percent", e.Percent)
		}
	}
}

func publish(ctx context.Context, pub *bus.Publisher, e progress.Event) {
	if pub == nil {
		return
	}

	_ = pub.Publish(ctx, e)
}

func writeResultFile(path string, res *runbatch.BatchResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// getURL retrieves the content from the specified URL using Hashicorp's go-getter.
// It removes the temporary file after reading its content.
func getURL(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, ErrGetConfigFile
	}

	tmpDir, err := os.MkdirTemp("", "neurobatch-getter-*")
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	defer os.RemoveAll(tmpDir) //nolint:errcheck

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	cli := getter.Client{
		DisableSymlinks: true,
	}

	req := &getter.Request{
		Src:     url,
		Dst:     filepath.Join(tmpDir, "g"),
		Pwd:     wd,
		GetMode: getter.ModeDir,
	}

	var fileName string
	// If it's not a local file URL, download the containing directory and
	// read the file from there.
	// https://github.com/hashicorp/go-getter/issues/98
	if ok, err := getter.Detect(req, &getter.FileGetter{}); !ok || err != nil {
		if err != nil {
			return nil, errors.Join(ErrGetConfigFile, err)
		}

		var newURL string

		newURL, fileName = splitFileNameFromGetterURL(url)
		if newURL == "" || fileName == "" {
			return nil, fmt.Errorf("%w: invalid URL format: %s", ErrGetConfigFile, url)
		}

		req.Src = newURL
	}

	if fileName == "" {
		req.Src = filepath.Dir(url)
		fileName = filepath.Base(url)
	}

	res, err := cli.Get(ctx, req)
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	bytes, err := os.ReadFile(filepath.Join(res.Dst, fileName))
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	return bytes, nil
}

const (
	goGetterPathSeparator = "//"
	goGetterRefSeparator  = "?"
	minimumGetterParts    = 3 // scheme, host and path
)

// splitFileNameFromGetterURL splits the URL into the directory and file name.
// It returns the new getter URL without the file name and the file name
// itself, appending any ref query parameter to the new URL when present.
func splitFileNameFromGetterURL(url string) (string, string) {
	var ref, fileName string

	parts := strings.Split(url, goGetterPathSeparator)
	if len(parts) < minimumGetterParts {
		return "", ""
	}

	if strings.Contains(parts[len(parts)-1], goGetterRefSeparator) {
		refSplit := strings.Split(parts[len(parts)-1], goGetterRefSeparator)
		if len(refSplit) > 1 {
			ref = strings.Join(refSplit[1:], "")
		}

		parts[len(parts)-1] = refSplit[0]
	}

	if filepath.Clean(parts[len(parts)-1]) == filepath.Dir(parts[len(parts)-1]) {
		return "", ""
	}

	fileName = filepath.Base(parts[len(parts)-1])
	parts[len(parts)-1] = filepath.Dir(parts[len(parts)-1])

	if parts[len(parts)-1] == "." {
		parts = parts[:len(parts)-1]
	}

	newURL := strings.Join(parts, goGetterPathSeparator)

	if ref != "" {
		newURL += goGetterRefSeparator + ref
	}

	return newURL, fileName
}
