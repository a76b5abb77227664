package compose

import (
	"fmt"
	"strconv"
	"strings"

	"clipforge/internal/faults"
)

// Inputs carries the per-run material handlers draw from: the generated text,
// the rendered artifacts, and the profile's presentation knobs.
type Inputs struct {
	Question      string
	Answer        string
	VoiceRef      string
	SubtitleRef   string
	BackgroundRef string
	FontName      string
	VoiceName     string
	Width         int
	Height        int
}

// Track is one folded element of the composition, in stacking order: later
// tracks cover earlier ones, matching ascending layer order.
type Track struct {
	Kind string            `json:"kind"`
	Ref  string            `json:"ref,omitempty"`
	Text string            `json:"text,omitempty"`
	Font string            `json:"font,omitempty"`
	Opts map[string]string `json:"opts,omitempty"`
}

// Context is the accumulating composition the resolver folds handler output
// into. It is handed whole to the compositing capability.
type Context struct {
	Width  int
	Height int
	Tracks []Track
}

// Append adds a track at the top of the stack.
func (c *Context) Append(t Track) {
	c.Tracks = append(c.Tracks, t)
}

// longSide is the pixel count of the longer output edge.
const longSide = 1920

// ParseAspect converts a "w:h" ratio into output dimensions with a fixed long
// side. A ratio that does not parse is a configuration fault.
func ParseAspect(ratio string) (int, int, error) {
	parts := strings.SplitN(ratio, ":", 2)
	if len(parts) != 2 {
		return 0, 0, faults.Configf("aspect ratio %q: want w:h", ratio)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, faults.Configf("aspect ratio %q: want positive integers", ratio)
	}
	if h >= w {
		return longSide * w / h, longSide, nil
	}
	return longSide, longSide * h / w, nil
}

// NewContext seeds an empty composition for the given inputs.
func NewContext(in Inputs) *Context {
	return &Context{Width: in.Width, Height: in.Height}
}

func (c *Context) String() string {
	return fmt.Sprintf("%dx%d composition, %d tracks", c.Width, c.Height, len(c.Tracks))
}
