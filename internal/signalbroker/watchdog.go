// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"os"
	"os/signal"

	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
)

// Watch monitors the signal channel. The first signal of a given type calls
// the supplied cancel function (a cooperative stop); the second signal of the
// same type cancels the hard context, forcing termination.
func Watch(ctx context.Context, sigCh chan os.Signal, soft func(), hard context.CancelFunc) {
	sigMap := make(map[os.Signal]struct{})

	for sig := range sigCh {
		if _, ok := sigMap[sig]; ok {
			ctxlog.Logger(ctx).Info("watchdog",
				"detail", "received second signal of type, forcefully terminating",
				"signal", sig.String())
			signal.Stop(sigCh)
			close(sigCh)
			hard()

			return
		}

		ctxlog.Logger(ctx).Info("watchdog",
			"detail", "received first signal of type, requesting cooperative stop",
			"signal", sig.String())

		sigMap[sig] = struct{}{}

		if soft != nil {
			soft()
		}
	}
}
