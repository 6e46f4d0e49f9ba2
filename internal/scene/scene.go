// Package scene holds the latest perception results, keyed by class label.
//
// A Snapshot is immutable. The Cache swaps whole snapshots atomically, so a
// reader sees either the previous frame's detections or the next frame's,
// never a mix of the two.
package scene

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Box is a bounding region in normalized frame coordinates (0..1).
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the box center.
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Width returns the box width.
func (b Box) Width() float64 { return math.Abs(b.X2 - b.X1) }

// Height returns the box height.
func (b Box) Height() float64 { return math.Abs(b.Y2 - b.Y1) }

// Area returns the fraction of the frame the box covers.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Detection is one raw detector result, before it is indexed into a snapshot.
type Detection struct {
	Class      string  `json:"name" yaml:"name"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Box        Box     `json:"box" yaml:"box"`
}

// Object is one perceived entity in a snapshot.
type Object struct {
	Class      string    `json:"class"`
	Index      int       `json:"index"` // position among objects of the same class in this frame
	Confidence float64   `json:"confidence"`
	Box        Box       `json:"box"`
	CapturedAt time.Time `json:"captured_at"`
}

// Snapshot is one complete, immutable perception result.
type Snapshot struct {
	frameID int64
	asOf    time.Time
	byClass map[string][]Object
}

// NewSnapshot indexes detections into a snapshot. Class labels are
// normalized to lower case; objects of the same class keep detection order
// and get consecutive indices starting at 0. Every object carries asOf.
func NewSnapshot(frameID int64, asOf time.Time, dets []Detection) *Snapshot {
	s := &Snapshot{frameID: frameID, asOf: asOf, byClass: make(map[string][]Object)}
	for _, d := range dets {
		class := NormalizeClass(d.Class)
		if class == "" {
			continue
		}
		s.byClass[class] = append(s.byClass[class], Object{
			Class:      class,
			Index:      len(s.byClass[class]),
			Confidence: clamp01(d.Confidence),
			Box:        d.Box,
			CapturedAt: asOf,
		})
	}
	return s
}

var empty = &Snapshot{frameID: -1, byClass: map[string][]Object{}}

// Empty returns the snapshot a Cache starts with.
func Empty() *Snapshot { return empty }

// NormalizeClass lower-cases and trims a class label.
func NormalizeClass(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// FrameID returns the frame the snapshot was built from; -1 for the empty snapshot.
func (s *Snapshot) FrameID() int64 { return s.frameID }

// AsOf returns the capture time shared by every object in the snapshot.
func (s *Snapshot) AsOf() time.Time { return s.asOf }

// IsEmpty reports whether the snapshot was never filled by a refresh.
func (s *Snapshot) IsEmpty() bool { return s.frameID < 0 }

// Age returns how old the snapshot is at now. The empty snapshot is
// infinitely old.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s.IsEmpty() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(s.asOf)
}

// Lookup returns the index-th object of a class.
func (s *Snapshot) Lookup(class string, index int) (Object, bool) {
	objs := s.byClass[NormalizeClass(class)]
	if index < 0 || index >= len(objs) {
		return Object{}, false
	}
	return objs[index], true
}

// Count returns how many objects of a class are in the snapshot.
func (s *Snapshot) Count(class string) int {
	return len(s.byClass[NormalizeClass(class)])
}

// Classes returns the class labels present, sorted.
func (s *Snapshot) Classes() []string {
	out := make([]string, 0, len(s.byClass))
	for c := range s.byClass {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Objects returns every object, grouped by class in sorted class order.
func (s *Snapshot) Objects() []Object {
	var out []Object
	for _, c := range s.Classes() {
		out = append(out, s.byClass[c]...)
	}
	return out
}

// MarshalJSON renders the snapshot for the operator API. An empty snapshot
// has frame_id -1 and no as_of.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	type view struct {
		FrameID int64      `json:"frame_id"`
		AsOf    *time.Time `json:"as_of,omitempty"`
		Objects []Object   `json:"objects"`
	}
	v := view{FrameID: s.frameID, Objects: s.Objects()}
	if !s.IsEmpty() {
		v.AsOf = &s.asOf
	}
	if v.Objects == nil {
		v.Objects = []Object{}
	}
	return json.Marshal(v)
}

// Cache is the scene state shared between the perception pipeline (writer)
// and the execution thread (reader).
type Cache struct {
	cur atomic.Pointer[Snapshot]
}

// NewCache returns a cache holding the empty snapshot.
func NewCache() *Cache {
	c := &Cache{}
	c.cur.Store(empty)
	return c
}

// Load returns the current snapshot. It never returns nil.
func (c *Cache) Load() *Snapshot {
	return c.cur.Load()
}

// Publish replaces the whole mapping with a snapshot built from dets.
// Results for a frame that is not newer than the current snapshot are
// dropped; Publish reports whether the snapshot was installed.
func (c *Cache) Publish(frameID int64, asOf time.Time, dets []Detection) bool {
	next := NewSnapshot(frameID, asOf, dets)
	for {
		cur := c.cur.Load()
		if frameID <= cur.frameID {
			return false
		}
		if c.cur.CompareAndSwap(cur, next) {
			return true
		}
	}
}
