// Package model defines data structures shared by the chat relay.
package model

import (
	"strings"
	"time"
)

// Role represents the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Image is an inline image attached to a user message.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Part is one unit of message content: text, an image, or both.
type Part struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// Message is a role-tagged piece of conversation content.
// Messages are treated as immutable once stored in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage builds a user message from text and an optional image.
func NewUserMessage(text string, img *Image, now time.Time) Message {
	parts := make([]Part, 0, 2)
	if text != "" {
		parts = append(parts, Part{Text: text})
	}
	if img != nil {
		parts = append(parts, Part{Image: img})
	}
	return Message{Role: RoleUser, Parts: parts, CreatedAt: now}
}

// NewModelMessage builds a model reply message.
func NewModelMessage(text string, now time.Time) Message {
	return Message{Role: RoleModel, Parts: []Part{{Text: text}}, CreatedAt: now}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// HasImage reports whether any part carries an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Image != nil {
			return true
		}
	}
	return false
}
