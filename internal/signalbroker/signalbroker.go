// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker turns OS termination signals into batch
// cancellation. The first signal of a given type requests a cooperative
// stop of the running job; a repeat of the same type forces the process
// down via the hard context.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
)

// New subscribes to the given signals and returns the delivery channel.
// With no arguments it watches the usual termination set. The channel is
// buffered so a signal arriving before Watch is running is not lost.
func New(ctx context.Context, sigs ...os.Signal) chan os.Signal {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	}

	ctxlog.Debug(ctx, "signal broker listening", "signals", sigs)

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	return ch
}
