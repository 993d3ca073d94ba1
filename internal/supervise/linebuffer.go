// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package supervise

import (
	"bytes"
	"sync"
)

// LineBuffer retains the complete output of a supervised process while
// tracking the last line for progress display. It is safe for concurrent
// use. Retention is capped; once the cap is reached further lines update
// the last-line tracking only.
type LineBuffer struct {
	mu        sync.RWMutex
	buf       bytes.Buffer
	lastLine  string
	truncated bool
	maxBytes  int
}

// NewLineBuffer creates a LineBuffer retaining up to maxBytes of output.
// A non-positive maxBytes applies the default 8 MiB cap.
func NewLineBuffer(maxBytes int) *LineBuffer {
	if maxBytes <= 0 {
		maxBytes = maxBufferSize
	}

	return &LineBuffer{maxBytes: maxBytes}
}

// Append records one complete output line.
func (b *LineBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastLine = line

	if b.buf.Len()+len(line)+1 > b.maxBytes {
		b.truncated = true
		return
	}

	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

// LastLine returns the most recent line. If maxLength > 0 the result is
// truncated to that length with a trailing ellipsis.
func (b *LineBuffer) LastLine(maxLength int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := b.lastLine
	if maxLength > 3 && len(result) > maxLength {
		result = result[:maxLength-3] + "..."
	}

	return result
}

// Bytes returns a copy of the retained output.
func (b *LineBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())

	return out
}

// Truncated reports whether output was dropped due to the retention cap.
func (b *LineBuffer) Truncated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.truncated
}
