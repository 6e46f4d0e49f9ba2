package scene

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_IndexesPerClass(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSnapshot(7, now, []Detection{
		{Class: "Chair", Confidence: 0.9, Box: Box{0.1, 0.1, 0.2, 0.3}},
		{Class: "cup", Confidence: 0.6},
		{Class: " chair ", Confidence: 1.4},
		{Class: "", Confidence: 0.5},
	})

	assert.Equal(t, int64(7), s.FrameID())
	assert.Equal(t, []string{"chair", "cup"}, s.Classes())
	assert.Equal(t, 2, s.Count("CHAIR"))
	assert.Equal(t, 0, s.Count("table"))

	second, ok := s.Lookup("chair", 1)
	require.True(t, ok)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, 1.0, second.Confidence, "confidence is clamped to [0,1]")

	for _, o := range s.Objects() {
		assert.Equal(t, now, o.CapturedAt)
	}

	_, ok = s.Lookup("chair", 2)
	assert.False(t, ok)
	_, ok = s.Lookup("chair", -1)
	assert.False(t, ok)
}

func TestBox_Geometry(t *testing.T) {
	b := Box{X1: 0.2, Y1: 0.4, X2: 0.6, Y2: 0.8}
	x, y := b.Center()
	assert.InDelta(t, 0.4, x, 1e-9)
	assert.InDelta(t, 0.6, y, 1e-9)
	assert.InDelta(t, 0.16, b.Area(), 1e-9)
}

func TestCache_StartsEmpty(t *testing.T) {
	c := NewCache()
	s := c.Load()
	require.NotNil(t, s)
	assert.True(t, s.IsEmpty())
	assert.Greater(t, s.Age(time.Now()), 24*time.Hour)
}

func TestCache_PublishReplacesWholesale(t *testing.T) {
	c := NewCache()
	require.True(t, c.Publish(1, time.Now(), []Detection{{Class: "cup"}, {Class: "tv"}}))
	require.True(t, c.Publish(2, time.Now(), []Detection{{Class: "person"}}))

	s := c.Load()
	assert.Equal(t, []string{"person"}, s.Classes(), "stale classes must not survive a refresh")
}

func TestCache_DropsOutOfOrderFrames(t *testing.T) {
	c := NewCache()
	require.True(t, c.Publish(5, time.Now(), []Detection{{Class: "cup"}}))
	assert.False(t, c.Publish(4, time.Now(), []Detection{{Class: "tv"}}))
	assert.False(t, c.Publish(5, time.Now(), []Detection{{Class: "tv"}}))
	assert.Equal(t, []string{"cup"}, c.Load().Classes())
}

func TestCache_ReadersNeverSeeMixedSnapshots(t *testing.T) {
	c := NewCache()
	const frames = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= frames; i++ {
			label := fmt.Sprintf("frame%d", i)
			c.Publish(i, time.Now(), []Detection{{Class: label}, {Class: label}, {Class: label}})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < frames; i++ {
				s := c.Load()
				if s.IsEmpty() {
					continue
				}
				want := fmt.Sprintf("frame%d", s.FrameID())
				objs := s.Objects()
				if !assert.Len(t, objs, 3) {
					return
				}
				for _, o := range objs {
					if !assert.Equal(t, want, o.Class) {
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(frames), c.Load().FrameID())
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(Empty())
	require.NoError(t, err)
	assert.JSONEq(t, `{"frame_id": -1, "objects": []}`, string(raw))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err = json.Marshal(NewSnapshot(3, now, []Detection{{Class: "cup", Confidence: 0.5}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"frame_id": 3,
		"as_of": "2026-01-02T03:04:05Z",
		"objects": [{"class": "cup", "index": 0, "confidence": 0.5,
			"box": {"x1": 0, "y1": 0, "x2": 0, "y2": 0}, "captured_at": "2026-01-02T03:04:05Z"}]
	}`, string(raw))
}
