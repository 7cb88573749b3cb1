package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldown_SuppressesWithinWindow(t *testing.T) {
	c := NewCooldown(16, time.Minute)

	assert.False(t, c.Suppressed(1, "person"))
	c.Open(1, "person")
	assert.True(t, c.Suppressed(1, "person"))
	assert.True(t, c.Suppressed(1, "person"))
}

func TestCooldown_SuppressedNeverOpensWindow(t *testing.T) {
	c := NewCooldown(16, time.Minute)

	// Checking must not start a window by itself.
	assert.False(t, c.Suppressed(1, "person"))
	assert.False(t, c.Suppressed(1, "person"))
}

func TestCooldown_KeysAreIndependent(t *testing.T) {
	c := NewCooldown(16, time.Minute)

	c.Open(1, "person")
	assert.True(t, c.Suppressed(1, "person"))
	assert.False(t, c.Suppressed(2, "person")) // other camera
	assert.False(t, c.Suppressed(1, "car"))    // other class
}

func TestCooldown_ReopensAfterWindow(t *testing.T) {
	c := NewCooldown(16, 30*time.Millisecond)

	c.Open(1, "person")
	assert.True(t, c.Suppressed(1, "person"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.Suppressed(1, "person"))
}

func TestLayout_ImagePath(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	got := imageRelPath("images", "Front Door", 3, ts, "person")
	assert.Equal(t, "images/Front Door/2026/08/24/3_1787567400_person.jpg", got)
}

func TestLayout_ClipPath(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	got := clipRelPath("videos", "Front Door", 3, ts, 42)
	assert.Equal(t, "videos/Front Door/2026/08/24/3_1787567400_42_clip.mp4", got)
}

func TestLayout_SanitizesName(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	got := imageRelPath("images", "../evil/name", 1, ts, "person")
	assert.NotContains(t, got, "..")
	assert.Equal(t, "images/--evil-name/2026/08/24/1_1787567400_person.jpg", got)
}
