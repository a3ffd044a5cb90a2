package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewUserMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)

	msg := NewUserMessage("hello", nil, now)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Text())
	assert.False(t, msg.HasImage())

	img := &Image{MIMEType: "image/png", Data: []byte{1, 2, 3}}
	msg = NewUserMessage("look", img, now)
	assert.Len(t, msg.Parts, 2)
	assert.True(t, msg.HasImage())
	assert.Equal(t, "look", msg.Text())

	msg = NewUserMessage("", img, now)
	assert.Len(t, msg.Parts, 1)
	assert.Equal(t, "", msg.Text())
}

func TestNewModelMessage(t *testing.T) {
	msg := NewModelMessage("reply", time.Now())
	assert.Equal(t, RoleModel, msg.Role)
	assert.Equal(t, "reply", msg.Text())
}
