package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTracker_InitialLoading(t *testing.T) {
	tr := NewSessionTracker(nil)
	analysis := tr.Update("client-1", "movie", Variant{Label: "720p"}, 0)
	assert.Equal(t, IntentInitialLoading, analysis.Intent)
	assert.True(t, analysis.IsNormalPlayerBehavior)
}

func TestSessionTracker_SequentialPlayback(t *testing.T) {
	tr := NewSessionTracker(nil)
	v := Variant{Label: "720p"}
	for i := SegmentIndex(0); i < 16; i++ {
		tr.Update("client-1", "movie", v, i)
	}
	analysis := tr.Update("client-1", "movie", v, 16)
	assert.Equal(t, IntentSequential, analysis.Intent)
	assert.True(t, analysis.IsNormalPlayerBehavior)
}

func TestSessionTracker_UserSeek(t *testing.T) {
	tr := NewSessionTracker(nil)
	v := Variant{Label: "720p"}
	for i := SegmentIndex(0); i < 16; i++ {
		tr.Update("client-1", "movie", v, i)
	}
	analysis := tr.Update("client-1", "movie", v, 200)
	assert.Equal(t, IntentUserSeek, analysis.Intent)
	assert.False(t, analysis.IsNormalPlayerBehavior)
}

func TestSessionTracker_PromotesHigherPriorityVariant(t *testing.T) {
	var demoted VariantLabel
	tr := NewSessionTracker(func(videoId VideoId, clientId ClientId, variant VariantLabel) {
		demoted = variant
	})
	tr.Update("client-1", "movie", Variant{Label: "720p"}, 0)
	tr.Update("client-1", "movie", Variant{Label: "1080p"}, 10)

	s := tr.Snapshot()["client-1"]
	assert.Equal(t, VariantLabel("1080p"), s.CurrentActiveVariant)
	assert.Equal(t, VariantLabel("720p"), demoted)
}

func TestSessionTracker_Purge(t *testing.T) {
	tr := NewSessionTracker(nil)
	tr.Update("client-1", "movie", Variant{Label: "720p"}, 0)
	tr.Purge("client-1")
	_, ok := tr.Snapshot()["client-1"]
	assert.False(t, ok)
}
