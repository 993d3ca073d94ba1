// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package bus mirrors batch lifecycle events onto a NATS subject tree so
// downstream consumers (dashboards, archival jobs) can observe runs without
// attaching to the process. Publishing is fire and forget; a broken bus
// never affects the batch.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
	"github.com/matt-FFFFFF/neurobatch/internal/progress"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultSubjectPrefix roots the subject tree for published events.
	DefaultSubjectPrefix = "neurobatch"

	connectTimeout = 5 * time.Second
)

// ErrNotConnected is returned when publishing on a closed publisher.
var ErrNotConnected = errors.New("not connected to nats")

// Publisher mirrors progress events to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect establishes the NATS connection. An empty prefix uses
// DefaultSubjectPrefix.
func Connect(ctx context.Context, url, prefix string) (*Publisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(url,
		nats.Name("neurobatch"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}

	ctxlog.Logger(ctx).Info("connected to nats", "url", url, "subjectPrefix", prefix)

	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// Publish mirrors one event. Only file and batch completions are published;
// every other event type is a no-op.
func (p *Publisher) Publish(ctx context.Context, e progress.Event) error {
	subject, payload, ok := messageFor(p.prefix, e)
	if !ok {
		return nil
	}

	if p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := p.nc.Publish(subject, data); err != nil {
		ctxlog.Logger(ctx).Warn("nats publish failed", "subject", subject, "error", err)
		return err
	}

	return nil
}

// Message is the wire schema for mirrored events.
type Message struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	FilePath  string    `json:"file_path,omitempty"`
	FileIndex int       `json:"file_index"`
	Percent   int       `json:"percent"`
	Failed    bool      `json:"failed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// messageFor maps an event to its subject and payload. The third return is
// false for event types that are not mirrored.
func messageFor(prefix string, e progress.Event) (string, Message, bool) {
	var subject string

	switch e.Type {
	case progress.EventFileCompleted:
		subject = prefix + ".file.completed"
	case progress.EventBatchCompleted:
		subject = prefix + ".batch.completed"
	default:
		return "", Message{}, false
	}

	msg := Message{
		JobID:     e.JobID,
		Kind:      e.Type.String(),
		FilePath:  e.FilePath,
		FileIndex: e.FileIndex,
		Percent:   e.Percent,
		Failed:    e.Failed,
		Timestamp: e.Timestamp,
	}

	if e.Err != nil {
		msg.Error = e.Err.Error()
	}

	return subject, msg, true
}
