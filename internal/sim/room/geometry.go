package room

// View is the uniform world->screen mapping that fits the fixed logical room
// into the current viewport, letterboxing whichever axis has slack.
type View struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

func ComputeView(viewportW, viewportH, roomW, roomH float64) View {
	if viewportW <= 0 || viewportH <= 0 {
		return View{Scale: 1}
	}
	scale := viewportW / roomW
	if s := viewportH / roomH; s < scale {
		scale = s
	}
	return View{
		Scale:   scale,
		OffsetX: (viewportW - roomW*scale) / 2,
		OffsetY: (viewportH - roomH*scale) / 2,
	}
}

func (v View) WorldToScreen(wx, wy float64) (float64, float64) {
	return wx*v.Scale + v.OffsetX, wy*v.Scale + v.OffsetY
}

func (v View) ScreenToWorld(sx, sy float64) (float64, float64) {
	return (sx - v.OffsetX) / v.Scale, (sy - v.OffsetY) / v.Scale
}

// FloorTopY interpolates the floor/back-wall seam height at x along the
// piecewise-linear control points. X values outside the first/last point
// clamp to the end segments.
func FloorTopY(points [][2]float64, x float64) float64 {
	if len(points) == 0 {
		return 0
	}
	if x <= points[0][0] {
		return points[0][1]
	}
	last := points[len(points)-1]
	if x >= last[0] {
		return last[1]
	}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if x <= b[0] {
			t := (x - a[0]) / (b[0] - a[0])
			return a[1] + t*(b[1]-a[1])
		}
	}
	return last[1]
}

// hitItem reports whether the world point lies inside the item's axis-aligned
// box: anchored at bottom-center, sized by sprite dimensions times the item's
// scale.
func hitItem(px, py float64, it PlacedItem, spriteW, spriteH float64) bool {
	w := spriteW * it.Scale
	h := spriteH * it.Scale
	return px >= it.X-w/2 && px <= it.X+w/2 && py >= it.Y-h && py <= it.Y
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
