// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main is the entry point for the neurobatch command-line application.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/matt-FFFFFF/neurobatch"
	"github.com/matt-FFFFFF/neurobatch/cmd"
	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)

	defer cancel()

	cmd.RootCmd.Version = fmt.Sprintf("%s (commit: %s)", neurobatch.Version, neurobatch.Commit)

	err := cmd.RootCmd.Run(ctx, os.Args)

	if ctx.Err() != nil {
		ctxlog.Logger(ctx).Error("command terminated due to cancellation", "error", ctx.Err())
		os.Exit(1)
	}

	if err != nil {
		os.Exit(1)
	}
}
