package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is an affordance attached to a message, such as an approve button.
type Action struct {
	Label    string `json:"label"`
	Command  string `json:"command"`
	TargetID string `json:"target_id"`
}

// CallbackData encodes the action as "<command>:<target id>".
func (a Action) CallbackData() string {
	return a.Command + ":" + a.TargetID
}

// ParseCallbackData splits callback data produced by Action.CallbackData.
func ParseCallbackData(data string) (command, targetID string, ok bool) {
	command, targetID, ok = strings.Cut(strings.TrimSpace(data), ":")
	if !ok || command == "" || targetID == "" {
		return "", "", false
	}
	return command, targetID, true
}

// Message is platform-neutral notification content.
type Message struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// Envelope is the outbox payload: who gets the message and what it says.
type Envelope struct {
	Recipients []string `json:"recipients"`
	Message    Message  `json:"message"`
}

// MarshalEnvelope encodes an envelope for the outbox payload column.
func MarshalEnvelope(envelope Envelope) (string, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// UnmarshalEnvelope decodes an outbox payload.
func UnmarshalEnvelope(payload string) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return envelope, nil
}

// UniqueRecipients trims recipients, drops blanks, and removes duplicates
// while preserving order.
func UniqueRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	unique := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if _, ok := seen[recipient]; ok {
			continue
		}
		seen[recipient] = struct{}{}
		unique = append(unique, recipient)
	}
	return unique
}
