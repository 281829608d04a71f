package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())

	got := c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), got)
	assert.Equal(t, got, c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}
