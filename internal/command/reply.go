// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package command

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ReplyType classifies a message on the info topic.
type ReplyType string

const (
	Info    ReplyType = "info"
	Success ReplyType = "success"
	Error   ReplyType = "error"
)

// Reply is what a node publishes on its info topic.
type Reply struct {
	Type      ReplyType `yaml:"type" json:"type"`
	DeviceID  string    `yaml:"device_id" json:"device_id"`
	Msg       string    `yaml:"msg" json:"msg"`
	RequestID string    `yaml:"request_id,omitempty" json:"request_id,omitempty"`
}

// NewRequestID returns a fresh id for a command that arrived without one.
func NewRequestID() string { return uuid.NewString() }

func (r Reply) Marshal() ([]byte, error) { return yaml.Marshal(r) }

// ParseReply decodes an info topic message.
func ParseReply(payload []byte) (Reply, error) {
	var r Reply
	if err := yaml.Unmarshal(payload, &r); err != nil {
		return r, fmt.Errorf("command: parse reply: %w", err)
	}
	switch r.Type {
	case Info, Success, Error:
	default:
		return r, fmt.Errorf("command: unknown reply type %q", r.Type)
	}
	return r, nil
}

func (r Reply) String() string {
	if r.RequestID != "" {
		return fmt.Sprintf("[%s] %s (%s): %s", r.DeviceID, r.Type, r.RequestID, r.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", r.DeviceID, r.Type, r.Msg)
}
