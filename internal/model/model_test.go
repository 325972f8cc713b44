package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasActionExecutor(t *testing.T) {
	withPlugin := Resource{ActionPlugin: "noop_success"}
	assert.True(t, withPlugin.HasActionExecutor())

	withoutPlugin := Resource{}
	assert.False(t, withoutPlugin.HasActionExecutor())
}

func TestTerminating(t *testing.T) {
	active := Resource{}
	assert.False(t, active.Terminating())

	now := time.Now().UTC()
	deleting := Resource{DeletedAt: &now}
	assert.True(t, deleting.Terminating())
}
