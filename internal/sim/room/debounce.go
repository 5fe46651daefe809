package room

// debounce coalesces rapid edits into a single persist call: every new edit
// restarts the quiet period, and the task fires only once edits stop
// arriving. Teardown drops a pending task instead of flushing it.
type debounce struct {
	quiet     float64
	pending   bool
	remaining float64
}

func (d *debounce) schedule() {
	d.pending = true
	d.remaining = d.quiet
}

func (d *debounce) cancel() {
	d.pending = false
	d.remaining = 0
}

// tick advances the quiet period and reports whether the task fires now.
func (d *debounce) tick(dt float64) bool {
	if !d.pending {
		return false
	}
	d.remaining -= dt
	if d.remaining > 0 {
		return false
	}
	d.pending = false
	d.remaining = 0
	return true
}
