package window

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcompd/xcompd/internal/wintype"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestFadeInTrajectory walks a map-in fade tick by tick.
func TestFadeInTrajectory(t *testing.T) {
	w := New(0x10)
	cfg := FadeConfig{FadeDelta: 10 * time.Millisecond, FadeInStep: 0.1, FadeOutStep: 0.1}

	w.Map()
	w.OpacityTgt = 1.0 // active_opacity

	ticks := []struct {
		offsetMS int
		want     float64
	}{
		{5, 0.0},
		{15, 0.1},
		{25, 0.2},
		{35, 0.3},
		{45, 0.4},
		{95, 0.9},
	}
	for _, tc := range ticks {
		w.StepFade(base.Add(time.Duration(tc.offsetMS)*time.Millisecond), cfg)
		assert.InDelta(t, tc.want, w.Opacity, 1e-9, "at t=%dms", tc.offsetMS)
	}
	// The MAPPING->MAPPED edge fires only once opacity reaches target;
	// mid-fade the window is still MAPPING (see DESIGN.md for why there
	// is no MAPPING->FADING edge).
	assert.Equal(t, Mapping, w.State)

	w.StepFade(base.Add(105*time.Millisecond), cfg)
	assert.InDelta(t, 1.0, w.Opacity, 1e-9)
	assert.False(t, w.CheckFadeFinished())
	// CheckFadeFinished flips state as a side effect once reached.
	w.CheckFadeFinished()
	assert.Equal(t, Mapped, w.State)
}

// TestDestroyMidFade covers the destroy-mid-fade transition
// half (registry interaction is covered in the dispatch package).
func TestDestroyMidFade(t *testing.T) {
	w := New(0x10)
	w.Map()
	w.OpacityTgt = 1.0
	w.State = Fading
	w.Opacity = 0.5

	w.Destroy()
	assert.Equal(t, Destroying, w.State)
	assert.Equal(t, 0.0, w.OpacityTgt)

	// Opacity has not yet reached zero: not done.
	assert.False(t, w.CheckFadeFinished())

	w.Opacity = 0
	assert.True(t, w.CheckFadeFinished())
}

func TestUnmappedInvariantNoImage(t *testing.T) {
	w := New(1)
	require.Equal(t, Unmapped, w.State)
	assert.Nil(t, w.Image)

	w.Map()
	w.Image = "fake-bound-pixmap"
	w.OpacityTgt = 1
	w.Opacity = 1
	w.CheckFadeFinished()
	assert.Equal(t, Mapped, w.State)

	w.Unmap()
	w.Opacity = 0
	w.CheckFadeFinished()
	assert.Equal(t, Unmapped, w.State)
	assert.Nil(t, w.Image, "image must be released on reaching UNMAPPED")
}

func TestOpacityTargetPriority(t *testing.T) {
	w := New(1)
	w.Map()
	w.State = Mapped
	defaults := wintype.Defaults{Opacity: math.NaN()}

	// Rule 5: not focused -> inactive.
	w.Focused = false
	w.RecomputeTarget(OpacityConfig{ActiveOpacity: 1.0, InactiveOpacity: 0.8}, defaults, 0, false)
	assert.Equal(t, 0.8, w.OpacityTgt)
	assert.Equal(t, OpacityInactive, w.OpacitySource)

	// Rule 4: focused -> active.
	w.Focused = true
	w.RecomputeTarget(OpacityConfig{ActiveOpacity: 1.0, InactiveOpacity: 0.8}, defaults, 0, false)
	assert.Equal(t, 1.0, w.OpacityTgt)
	assert.Equal(t, OpacityActive, w.OpacitySource)

	// Rule 3: wintype default beats focus.
	w.RecomputeTarget(OpacityConfig{ActiveOpacity: 1.0, InactiveOpacity: 0.8}, wintype.Defaults{Opacity: 0.5}, 0, false)
	assert.Equal(t, 0.5, w.OpacityTgt)
	assert.Equal(t, OpacityTypeDefault, w.OpacitySource)

	// Rule 2: property beats type default.
	w.RecomputeTarget(OpacityConfig{ActiveOpacity: 1.0, InactiveOpacity: 0.8}, wintype.Defaults{Opacity: 0.5}, 0.3, true)
	assert.Equal(t, 0.3, w.OpacityTgt)
	assert.Equal(t, OpacityProperty, w.OpacitySource)

	// Rule 1: inactive override beats everything when unfocused.
	w.Focused = false
	w.RecomputeTarget(OpacityConfig{InactiveOpacityOverride: true, ActiveOpacity: 1.0, InactiveOpacity: 0.6}, wintype.Defaults{Opacity: 0.5}, 0.3, true)
	assert.Equal(t, 0.6, w.OpacityTgt)
	assert.Equal(t, OpacityInactive, w.OpacitySource)
}

func TestFadeSkipWhenRedirectionOff(t *testing.T) {
	w := New(1)
	w.Map()
	w.OpacityTgt = 1.0
	w.SkipFade()
	assert.Equal(t, 1.0, w.Opacity)
}

func TestOpacityNeverCrossesTarget(t *testing.T) {
	w := New(1)
	w.Map()
	w.OpacityTgt = 0.25
	w.State = Fading
	cfg := FadeConfig{FadeDelta: time.Millisecond, FadeInStep: 1, FadeOutStep: 1}

	now := base
	w.StepFade(now, cfg) // establishes lastStepTime
	now = now.Add(100 * time.Millisecond)
	w.StepFade(now, cfg)
	assert.Equal(t, 0.25, w.Opacity, "large step must clamp at target, not overshoot")
}
