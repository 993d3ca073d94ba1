// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package color provides functions to determine if color output is enabled
// and to colorize strings with ANSI escape codes.
// The package checks the environment variables NO_COLOR and FORCE_COLOR to
// determine if color output should be enabled or disabled, and falls back to
// terminal detection via golang.org/x/term.
package color
