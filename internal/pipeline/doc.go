// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package pipeline defines the fixed, ordered phase descriptors of the
// processing pipelines: each phase names an external executable, an argument
// template, an expected output artifact location and a relative progress
// weight. Weights default to equal; job configuration may override them per
// phase name.
package pipeline
