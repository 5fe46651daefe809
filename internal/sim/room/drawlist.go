package room

import "sort"

type DrawKind int

const (
	DrawItem DrawKind = iota
	DrawAvatar
)

// Drawable is one entry of the per-frame draw list: furniture and avatars
// share nothing but a world-Y depth key, so they stay a tagged union rather
// than a hierarchy.
type Drawable struct {
	Kind   DrawKind
	WorldY float64

	Item   PlacedItem // Kind == DrawItem
	UserID string     // Kind == DrawAvatar
	Pose   Pose       // Kind == DrawAvatar
}

// FrameOp is one draw command in screen coordinates.
type FrameOp struct {
	Kind      DrawKind
	SpriteKey string
	UserID    string
	X, Y      float64 // top-left
	W, H      float64
	Selected  bool
}

// Frame is the complete render plan for one tick. When Ready is false the
// caller shows a loading state and nothing else.
type Frame struct {
	Ready      bool
	View       View
	Background *FrameOp
	Ops        []FrameOp
}

// sortDrawables orders back-to-front by world Y so lower-on-screen entities
// occlude higher ones (painter's algorithm). The sort is stable: equal-depth
// entries keep insertion order.
func sortDrawables(ds []Drawable) {
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].WorldY < ds[j].WorldY })
}
