package avpipe

import (
	"fmt"
	"sort"
	"strings"
)

// Caps feature names understood by the elements in this package.
const (
	// FeatureOverlayComposition marks a consumer that can interpret
	// OverlayMeta attached to buffers instead of requiring blended pixels.
	FeatureOverlayComposition = "meta:overlay-composition"
)

// Common media types.
const (
	MediaTypeRawVideo       = "video/x-raw"
	MediaTypeRawAudio       = "audio/x-raw"
	MediaTypeWebVTTFragment = "application/x-subtitle-vtt-fragmented"
)

// Caps describes the format of a stream: a media type, a set of typed
// attributes and optional feature markers.
type Caps struct {
	MediaType string
	Attrs     map[string]any
	Features  []string
}

// NewCaps creates caps with the given media type and no attributes.
func NewCaps(mediaType string) *Caps {
	return &Caps{MediaType: mediaType, Attrs: map[string]any{}}
}

// VideoCaps creates raw video caps for the given dimensions and format.
func VideoCaps(width, height int, format PixelFormat) *Caps {
	return NewCaps(MediaTypeRawVideo).
		WithAttr("width", width).
		WithAttr("height", height).
		WithAttr("format", format.String())
}

// AudioCaps creates raw audio caps for the given rate and channel count.
func AudioCaps(rate, channels int, format AudioFormat) *Caps {
	return NewCaps(MediaTypeRawAudio).
		WithAttr("rate", rate).
		WithAttr("channels", channels).
		WithAttr("format", format.String())
}

// WithAttr sets an attribute and returns the caps for chaining.
func (c *Caps) WithAttr(key string, value any) *Caps {
	if c.Attrs == nil {
		c.Attrs = map[string]any{}
	}
	c.Attrs[key] = value
	return c
}

// WithFeature appends a feature marker and returns the caps for chaining.
func (c *Caps) WithFeature(feature string) *Caps {
	c.Features = append(c.Features, feature)
	return c
}

// Attr returns the attribute value for key, or nil.
func (c *Caps) Attr(key string) any {
	if c == nil || c.Attrs == nil {
		return nil
	}
	return c.Attrs[key]
}

// IntAttr returns an integer attribute, or def when absent or mistyped.
func (c *Caps) IntAttr(key string, def int) int {
	if v, ok := c.Attr(key).(int); ok {
		return v
	}
	return def
}

// StringAttr returns a string attribute, or def when absent or mistyped.
func (c *Caps) StringAttr(key string, def string) string {
	if v, ok := c.Attr(key).(string); ok {
		return v
	}
	return def
}

// HasFeature reports whether the caps carry the given feature marker.
func (c *Caps) HasFeature(feature string) bool {
	if c == nil {
		return false
	}
	for _, f := range c.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the caps.
func (c *Caps) Clone() *Caps {
	if c == nil {
		return nil
	}
	out := &Caps{MediaType: c.MediaType, Attrs: make(map[string]any, len(c.Attrs))}
	for k, v := range c.Attrs {
		out.Attrs[k] = v
	}
	out.Features = append([]string(nil), c.Features...)
	return out
}

// Equal reports whether two caps have the same media type, attributes and
// features.
func (c *Caps) Equal(o *Caps) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.MediaType != o.MediaType || len(c.Attrs) != len(o.Attrs) {
		return false
	}
	for k, v := range c.Attrs {
		ov, ok := o.Attrs[k]
		if !ok || ov != v {
			return false
		}
	}
	if len(c.Features) != len(o.Features) {
		return false
	}
	cf := append([]string(nil), c.Features...)
	of := append([]string(nil), o.Features...)
	sort.Strings(cf)
	sort.Strings(of)
	for i := range cf {
		if cf[i] != of[i] {
			return false
		}
	}
	return true
}

// CanIntersect reports whether two caps are compatible: same media type and
// no attribute present in both with different values.
func (c *Caps) CanIntersect(o *Caps) bool {
	if c == nil || o == nil {
		return true
	}
	if c.MediaType != o.MediaType {
		return false
	}
	for k, v := range c.Attrs {
		if ov, ok := o.Attrs[k]; ok && ov != v {
			return false
		}
	}
	return true
}

func (c *Caps) String() string {
	if c == nil {
		return "<nil>"
	}
	keys := make([]string, 0, len(c.Attrs))
	for k := range c.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(c.MediaType)
	for _, k := range keys {
		fmt.Fprintf(&b, ", %s=%v", k, c.Attrs[k])
	}
	for _, f := range c.Features {
		fmt.Fprintf(&b, " (%s)", f)
	}
	return b.String()
}
