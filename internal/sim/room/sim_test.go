package room

import (
	"context"
	"errors"
	"math"
	"testing"

	"beaverden.app/internal/persistence/roomdb"
	"beaverden.app/internal/protocol"
	"beaverden.app/internal/sim/catalogs"
	"beaverden.app/internal/sim/tuning"
)

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Items: catalogs.ItemCatalog{
			Keys: []string{"chair", "lamp", "rug"},
			Defs: map[string]catalogs.ItemDef{
				"chair": {Key: "chair", SpriteKey: "chair", DefaultScale: 1.0, MaxOwned: 1},
				"lamp":  {Key: "lamp", SpriteKey: "lamp", DefaultScale: 1.0, MaxOwned: 2},
				"rug":   {Key: "rug", SpriteKey: "rug", DefaultScale: 1.0, MaxOwned: 1, ScaleMin: 0.5, ScaleMax: 2.0},
			},
		},
		Sprites: catalogs.SpriteCatalog{
			Defs: map[string]catalogs.SpriteDef{
				SpriteRoomBg: {Key: SpriteRoomBg, Width: 1000, Height: 600},
				SpriteAvatar: {Key: SpriteAvatar, Width: 250, Height: 250},
				"chair":      {Key: "chair", Width: 120, Height: 140},
				"lamp":       {Key: "lamp", Width: 60, Height: 160},
				"rug":        {Key: "rug", Width: 220, Height: 90},
			},
		},
	}
}

type fakeLoader struct {
	room roomdb.Room
	err  error
}

func (f *fakeLoader) LoadOwn(ctx context.Context, userID string) (roomdb.Room, error) {
	return f.room, f.err
}
func (f *fakeLoader) LoadByOwner(ctx context.Context, ownerID string) (roomdb.Room, error) {
	return f.room, f.err
}

type patchCall struct {
	instanceID string
	x, y       float64
	scale      float64
}

type poseCall struct {
	x, y float64
	dir  string
}

type docRecorder struct {
	items []patchCall
	poses []poseCall
}

func (d *docRecorder) PatchItem(instanceID string, x, y, scale float64) {
	d.items = append(d.items, patchCall{instanceID, x, y, scale})
}
func (d *docRecorder) PatchRestPose(x, y float64, dir string) {
	d.poses = append(d.poses, poseCall{x, y, dir})
}

type moveRecorder struct {
	moves []Pose
}

func (m *moveRecorder) SendMove(x, y float64, dir string) {
	m.moves = append(m.moves, Pose{X: x, Y: y, Dir: dir})
}

type simFixture struct {
	sim    *Simulation
	loader *fakeLoader
	doc    *docRecorder
	sender *moveRecorder
}

func newOwnerSim(t *testing.T, room roomdb.Room) *simFixture {
	t.Helper()
	cfg := tuning.Defaults()
	cats := testCatalogs()
	f := &simFixture{
		loader: &fakeLoader{room: room},
		doc:    &docRecorder{},
		sender: &moveRecorder{},
	}
	f.sim = NewSimulation(cfg, ModeOwner, "owner1", "owner1", StaticAssets(cats), cats, f.loader, f.doc, f.sender, nil)
	f.sim.Resize(1000, 600)
	f.sim.Enter(context.Background())
	return f
}

func newVisitorSim(t *testing.T, room roomdb.Room) *simFixture {
	t.Helper()
	cfg := tuning.Defaults()
	cats := testCatalogs()
	f := &simFixture{
		loader: &fakeLoader{room: room},
		sender: &moveRecorder{},
	}
	f.sim = NewSimulation(cfg, ModeVisitor, "owner1", "guest1", StaticAssets(cats), cats, f.loader, nil, f.sender, nil)
	f.sim.Resize(1000, 600)
	f.sim.Enter(context.Background())
	return f
}

func emptyRoom() roomdb.Room {
	return roomdb.Room{
		OwnerID:  "owner1",
		RestPose: roomdb.Pose{X: 525, Y: 510, Dir: "down"},
	}
}

func roomWith(items ...roomdb.PlacedItem) roomdb.Room {
	r := emptyRoom()
	r.PlacedItems = items
	return r
}

func TestEnter_OwnerRestoresRestPose(t *testing.T) {
	r := emptyRoom()
	r.RestPose = roomdb.Pose{X: 120, Y: 480, Dir: "left"}
	f := newOwnerSim(t, r)
	if got := f.sim.Avatar(); got != (Pose{X: 120, Y: 480, Dir: "left"}) {
		t.Fatalf("avatar = %+v", got)
	}
	if !f.sim.Ready() {
		t.Fatalf("sim should be ready with static assets")
	}
}

func TestEnter_LoadFailureLeavesEmptyRoom(t *testing.T) {
	cfg := tuning.Defaults()
	cats := testCatalogs()
	loader := &fakeLoader{err: errors.New("db down")}
	sim := NewSimulation(cfg, ModeOwner, "owner1", "owner1", StaticAssets(cats), cats, loader, &docRecorder{}, nil, nil)
	sim.Resize(1000, 600)
	sim.Enter(context.Background())

	if n := len(sim.Items()); n != 0 {
		t.Fatalf("items = %d, want 0", n)
	}
	// Spawn pose survives; entry never aborts.
	if got := sim.Avatar(); got != (Pose{X: 525, Y: 510, Dir: "down"}) {
		t.Fatalf("avatar = %+v", got)
	}
}

func TestMovement_FloorClamp(t *testing.T) {
	r := emptyRoom()
	r.RestPose = roomdb.Pose{X: 500, Y: 430, Dir: "down"}
	f := newOwnerSim(t, r)

	f.sim.KeyDown(KeyMoveUp)
	for i := 0; i < 40; i++ {
		f.sim.Tick(0.05)
	}
	got := f.sim.Avatar()
	// Seam at x=500 is 400; walkable floor starts at 400+24.
	if math.Abs(got.Y-424) > 1e-9 {
		t.Fatalf("y = %v, want clamped to 424", got.Y)
	}
	if got.X != 500 {
		t.Fatalf("x drifted to %v", got.X)
	}
	if got.Dir != protocol.DirUp {
		t.Fatalf("dir = %q, want up", got.Dir)
	}
}

func TestMovement_DiagonalNormalizedAndTiesFaceVertical(t *testing.T) {
	f := newOwnerSim(t, emptyRoom())
	start := f.sim.Avatar()

	f.sim.KeyDown(KeyMoveDown)
	f.sim.KeyDown(KeyMoveRight)
	f.sim.Tick(0.05)

	got := f.sim.Avatar()
	dx, dy := got.X-start.X, got.Y-start.Y
	want := 220 * 0.05 / math.Sqrt2
	if math.Abs(dx-want) > 1e-9 || math.Abs(dy-want) > 1e-9 {
		t.Fatalf("step = (%v,%v), want (%v,%v)", dx, dy, want, want)
	}
	if got.Dir != protocol.DirDown {
		t.Fatalf("diagonal tie dir = %q, want down", got.Dir)
	}

	// Opposite keys cancel; facing stays put.
	f.sim.KeyDown(KeyMoveUp)
	prev := f.sim.Avatar()
	f.sim.Tick(0.05)
	got = f.sim.Avatar()
	if got.Y != prev.Y {
		t.Fatalf("y moved with opposing keys held")
	}
	if got.Dir != protocol.DirRight {
		t.Fatalf("dir = %q, want right (horizontal now dominates)", got.Dir)
	}
}

func TestMovement_DtClamp(t *testing.T) {
	f := newOwnerSim(t, emptyRoom())
	start := f.sim.Avatar()

	f.sim.KeyDown(KeyMoveRight)
	f.sim.Tick(10) // a stalled tab resuming
	got := f.sim.Avatar()
	if step := got.X - start.X; math.Abs(step-220*0.05) > 1e-9 {
		t.Fatalf("step = %v, want one clamped tick's worth", step)
	}
}

func TestMovement_BoundsClamp(t *testing.T) {
	r := emptyRoom()
	r.RestPose = roomdb.Pose{X: 990, Y: 590, Dir: "down"}
	f := newOwnerSim(t, r)

	f.sim.KeyDown(KeyMoveRight)
	f.sim.KeyDown(KeyMoveDown)
	for i := 0; i < 10; i++ {
		f.sim.Tick(0.05)
	}
	got := f.sim.Avatar()
	if got.X != 1000 || got.Y != 600 {
		t.Fatalf("avatar escaped bounds: %+v", got)
	}
}

func TestInputSuppression(t *testing.T) {
	f := newOwnerSim(t, emptyRoom())
	f.sim.KeyDown(KeyMoveRight)
	f.sim.SetInputSuppressed(true)
	start := f.sim.Avatar()
	f.sim.Tick(0.05)
	if f.sim.Avatar() != start {
		t.Fatalf("held key survived suppression")
	}
	// Presses while suppressed are ignored too.
	f.sim.KeyDown(KeyMoveLeft)
	f.sim.Tick(0.05)
	if f.sim.Avatar() != start {
		t.Fatalf("press while suppressed moved the avatar")
	}
	f.sim.SetInputSuppressed(false)
	f.sim.KeyDown(KeyMoveLeft)
	f.sim.Tick(0.05)
	if f.sim.Avatar() == start {
		t.Fatalf("movement should resume after unsuppress")
	}
}

func TestSendMove_ThrottleAndEpsilon(t *testing.T) {
	f := newOwnerSim(t, emptyRoom())

	// First tick announces the pose even while stationary; after that,
	// standing still sends nothing.
	f.sim.Tick(0.05)
	if n := len(f.sender.moves); n != 1 {
		t.Fatalf("initial sends = %d, want 1", n)
	}
	for i := 0; i < 20; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.sender.moves); n != 1 {
		t.Fatalf("stationary sends = %d, want still 1", n)
	}

	// While moving, sends obey the rate cap: at 15 Hz the minimum spacing is
	// ~66.7ms, so 0.05s ticks send on every other tick.
	f.sim.KeyDown(KeyMoveRight)
	for i := 0; i < 6; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.sender.moves); n != 4 {
		t.Fatalf("sends after 6 moving ticks = %d, want 4", n)
	}
	last := f.sender.moves[len(f.sender.moves)-1]
	if last.Dir != protocol.DirRight {
		t.Fatalf("last move dir = %q", last.Dir)
	}
}

func TestSendMove_SubEpsilonMotionStaysQuiet(t *testing.T) {
	f := newOwnerSim(t, emptyRoom())
	f.sim.Tick(0.05) // initial announce
	base := len(f.sender.moves)

	// A dir change alone is beyond the epsilon even with zero displacement.
	f.sim.KeyDown(KeyMoveLeft)
	f.sim.KeyDown(KeyMoveRight)
	f.sim.Tick(0.05)
	f.sim.Tick(0.05)
	if n := len(f.sender.moves); n != base {
		t.Fatalf("cancelled keys sent %d extra moves", n-base)
	}
}

func TestPoseSave_CadenceAndStop(t *testing.T) {
	f := newOwnerSim(t, emptyRoom())

	f.sim.KeyDown(KeyMoveRight)
	// 1.5s of movement at 0.05s ticks: exactly one cadence save.
	for i := 0; i < 30; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.poses); n != 1 {
		t.Fatalf("cadence saves = %d, want 1", n)
	}

	// Stopping saves once more, immediately, and then goes quiet.
	f.sim.KeyUp(KeyMoveRight)
	f.sim.Tick(0.05)
	if n := len(f.doc.poses); n != 2 {
		t.Fatalf("saves after stop = %d, want 2", n)
	}
	for i := 0; i < 40; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.poses); n != 2 {
		t.Fatalf("idle saves = %d, want still 2", n)
	}

	got := f.doc.poses[1]
	av := f.sim.Avatar()
	if got.x != av.X || got.y != av.Y || got.dir != av.Dir {
		t.Fatalf("stop save %+v != avatar %+v", got, av)
	}
}

func TestPoseSave_VisitorNeverSaves(t *testing.T) {
	f := newVisitorSim(t, emptyRoom())
	f.sim.KeyDown(KeyMoveLeft)
	for i := 0; i < 60; i++ {
		f.sim.Tick(0.05)
	}
	// Visitor fixture has no doc writer at all; just make sure movement and
	// presence sends still work.
	if len(f.sender.moves) == 0 {
		t.Fatalf("visitor sent no presence moves")
	}
}

func TestPointerDown_TopmostHitWinsAndSelects(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	lamp := roomdb.PlacedItem{InstanceID: "i-lamp", ItemKey: "lamp", X: 505, Y: 520, Scale: 1}
	f := newOwnerSim(t, roomWith(chair, lamp))

	var selections []string
	f.sim.OnSelected = func(id string) { selections = append(selections, id) }

	// Viewport 1000x600 over a 1000x600 room: screen == world.
	// (500,480) is inside both boxes; the lamp sits lower (greater worldY).
	f.sim.PointerDown(500, 480)
	if f.sim.Selected() != "i-lamp" {
		t.Fatalf("selected = %q, want i-lamp", f.sim.Selected())
	}

	// Clicking empty space clears the selection.
	f.sim.PointerDown(50, 50)
	if f.sim.Selected() != "" {
		t.Fatalf("selection not cleared")
	}
	if len(selections) != 2 || selections[0] != "i-lamp" || selections[1] != "" {
		t.Fatalf("selection events = %v", selections)
	}
}

func TestDrag_PreservesGrabOffsetAndPersistsOnce(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))

	// Grab 10 right of and 20 above the anchor.
	f.sim.PointerDown(510, 480)
	f.sim.PointerMove(310, 380)
	f.sim.PointerMove(210, 280)
	if n := len(f.doc.items); n != 0 {
		t.Fatalf("persisted mid-drag: %d calls", n)
	}

	f.sim.PointerUp()
	if n := len(f.doc.items); n != 1 {
		t.Fatalf("persist calls = %d, want exactly 1", n)
	}
	got := f.doc.items[0]
	if got.instanceID != "i-chair" || got.x != 200 || got.y != 300 {
		t.Fatalf("persisted %+v", got)
	}
	// Releasing again is a no-op.
	f.sim.PointerUp()
	if n := len(f.doc.items); n != 1 {
		t.Fatalf("second release persisted again")
	}
}

func TestDrag_ClampsToBounds(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))

	f.sim.PointerDown(500, 500)
	f.sim.PointerMove(-400, 900)
	it := f.sim.Items()[0]
	if it.X != 0 || it.Y != 600 {
		t.Fatalf("dragged out of bounds: %+v", it)
	}
}

func TestWheel_ScalesAndDebounces(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))
	f.sim.PointerDown(500, 480)
	f.sim.PointerUp()
	f.doc.items = nil // discard the release persist

	f.sim.Wheel(-1)
	f.sim.Wheel(-1)
	want := 1.06 * 1.06
	if got := f.sim.Items()[0].Scale; math.Abs(got-want) > 1e-9 {
		t.Fatalf("scale = %v, want %v", got, want)
	}

	// Quiet period not yet elapsed: no persist.
	for i := 0; i < 6; i++ { // 0.3s
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.items); n != 0 {
		t.Fatalf("persisted before quiet period: %d", n)
	}
	// Another edit resets the window.
	f.sim.Wheel(1)
	for i := 0; i < 6; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.items); n != 0 {
		t.Fatalf("persisted before reset window elapsed: %d", n)
	}
	for i := 0; i < 2; i++ { // crosses the 0.4s mark
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.items); n != 1 {
		t.Fatalf("persist calls = %d, want exactly 1", n)
	}
	wantFinal := want * 0.94
	if got := f.doc.items[0].scale; math.Abs(got-wantFinal) > 1e-9 {
		t.Fatalf("persisted scale = %v, want %v", got, wantFinal)
	}
}

func TestWheel_ClampsPerItemBounds(t *testing.T) {
	rug := roomdb.PlacedItem{InstanceID: "i-rug", ItemKey: "rug", X: 500, Y: 500, Scale: 1.9}
	f := newOwnerSim(t, roomWith(rug))
	f.sim.PointerDown(500, 490)

	for i := 0; i < 50; i++ {
		f.sim.Wheel(-1)
	}
	if got := f.sim.Items()[0].Scale; got != 2.0 {
		t.Fatalf("scale = %v, want per-item cap 2.0", got)
	}
	for i := 0; i < 200; i++ {
		f.sim.Wheel(1)
	}
	if got := f.sim.Items()[0].Scale; got != 0.5 {
		t.Fatalf("scale = %v, want per-item floor 0.5", got)
	}
}

func TestScaleKeys_ExponentialRate(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))
	f.sim.PointerDown(500, 480)
	f.sim.PointerUp()

	f.sim.KeyDown(KeyScaleUp)
	f.sim.Tick(0.05)
	want := math.Exp(1.2 * 0.05)
	if got := f.sim.Items()[0].Scale; math.Abs(got-want) > 1e-9 {
		t.Fatalf("scale = %v, want %v", got, want)
	}

	// Both scale keys held cancel out.
	f.sim.KeyDown(KeyScaleDown)
	prev := f.sim.Items()[0].Scale
	f.sim.Tick(0.05)
	if got := f.sim.Items()[0].Scale; got != prev {
		t.Fatalf("scale moved with both keys held")
	}
}

func TestClose_DropsPendingSave(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))
	f.sim.PointerDown(500, 480)
	f.sim.PointerUp()
	f.doc.items = nil

	f.sim.Wheel(-1)
	f.sim.Close()
	for i := 0; i < 20; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.items); n != 0 {
		t.Fatalf("pending save flushed after close: %d calls", n)
	}
	if f.sim.Selected() != "" {
		t.Fatalf("selection survived close")
	}
}

func TestRemovePlacedItem_ClearsDerivedState(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))
	f.sim.PointerDown(500, 480)
	f.sim.Wheel(-1) // leaves a pending debounced save

	f.sim.RemovePlacedItem("i-chair")
	if n := len(f.sim.Items()); n != 0 {
		t.Fatalf("items = %d", n)
	}
	if f.sim.Selected() != "" {
		t.Fatalf("selection points at a removed item")
	}
	for i := 0; i < 20; i++ {
		f.sim.Tick(0.05)
	}
	if n := len(f.doc.items); n != 0 {
		t.Fatalf("debounced save fired for a removed item")
	}
}

func TestVisitor_CannotEdit(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newVisitorSim(t, roomWith(chair))

	f.sim.PointerDown(500, 480)
	if f.sim.Selected() != "" {
		t.Fatalf("visitor selected an item")
	}
	f.sim.Wheel(-1)
	if got := f.sim.Items()[0].Scale; got != 1 {
		t.Fatalf("visitor rescaled an item: %v", got)
	}
}

func TestApplyPresence_SnapshotMoveLeave(t *testing.T) {
	f := newVisitorSim(t, emptyRoom())

	f.sim.ApplyPresenceState(protocol.PresenceStateMsg{
		RoomID: "owner1",
		Users: map[string]protocol.AvatarPose{
			"guest1": {X: 1, Y: 2, Dir: "up"},   // self: ignored
			"owner1": {X: 300, Y: 450, Dir: "down"},
		},
	})
	f.sim.ApplyPresenceMoved(protocol.PresenceMovedMsg{UserID: "owner1", X: 310, Y: 455, Dir: "right"})
	f.sim.ApplyPresenceMoved(protocol.PresenceMovedMsg{UserID: "guest1", X: 900, Y: 100, Dir: "up"})

	frame := f.sim.Frame()
	var avatars []FrameOp
	for _, op := range frame.Ops {
		if op.Kind == DrawAvatar {
			avatars = append(avatars, op)
		}
	}
	// Self plus the owner; the self-echo never moved the local avatar.
	if len(avatars) != 2 {
		t.Fatalf("avatar ops = %d, want 2", len(avatars))
	}
	if got := f.sim.Avatar(); got.X == 900 {
		t.Fatalf("self echo moved the local avatar")
	}

	f.sim.ApplyPresenceLeft(protocol.PresenceLeftMsg{UserID: "owner1"})
	frame = f.sim.Frame()
	avatars = avatars[:0]
	for _, op := range frame.Ops {
		if op.Kind == DrawAvatar {
			avatars = append(avatars, op)
		}
	}
	if len(avatars) != 1 || avatars[0].UserID != "guest1" {
		t.Fatalf("after leave: %+v", avatars)
	}
}

func TestApplyRoomUpdate(t *testing.T) {
	f := newVisitorSim(t, emptyRoom())

	// Wrong owner: ignored entirely.
	f.sim.ApplyRoomUpdate(protocol.RoomUpdateMsg{
		OwnerID:     "someone-else",
		PlacedItems: []protocol.PlacedItemWire{{InstanceID: "x", ItemKey: "chair", X: 1, Y: 2, Scale: 1}},
	})
	if n := len(f.sim.Items()); n != 0 {
		t.Fatalf("foreign update applied: %d items", n)
	}

	// Furniture list replaces wholesale; the owner pose lands as a remote
	// avatar.
	f.sim.ApplyRoomUpdate(protocol.RoomUpdateMsg{
		OwnerID:     "owner1",
		PlacedItems: []protocol.PlacedItemWire{{InstanceID: "i1", ItemKey: "chair", X: 400, Y: 500, Scale: 1}},
		Pose:        &protocol.AvatarPose{X: 100, Y: 450, Dir: "left"},
	})
	if n := len(f.sim.Items()); n != 1 {
		t.Fatalf("items = %d, want 1", n)
	}
	frame := f.sim.Frame()
	var owners int
	for _, op := range frame.Ops {
		if op.Kind == DrawAvatar && op.UserID == "owner1" {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("owner avatar ops = %d, want 1", owners)
	}

	// A pose-only update keeps the furniture.
	f.sim.ApplyRoomUpdate(protocol.RoomUpdateMsg{
		OwnerID: "owner1",
		Pose:    &protocol.AvatarPose{X: 150, Y: 450, Dir: "right"},
	})
	if n := len(f.sim.Items()); n != 1 {
		t.Fatalf("pose-only update dropped furniture")
	}
}

func TestFrame_PainterOrderAndBackground(t *testing.T) {
	near := roomdb.PlacedItem{InstanceID: "i-near", ItemKey: "chair", X: 300, Y: 560, Scale: 1}
	far := roomdb.PlacedItem{InstanceID: "i-far", ItemKey: "lamp", X: 700, Y: 430, Scale: 1}
	f := newOwnerSim(t, roomWith(near, far)) // avatar spawns at y=510, between them

	frame := f.sim.Frame()
	if !frame.Ready || frame.Background == nil || frame.Background.SpriteKey != SpriteRoomBg {
		t.Fatalf("frame header: ready=%v background=%+v", frame.Ready, frame.Background)
	}
	if len(frame.Ops) != 3 {
		t.Fatalf("ops = %d, want 3", len(frame.Ops))
	}
	order := []string{frame.Ops[0].SpriteKey, frame.Ops[1].SpriteKey, frame.Ops[2].SpriteKey}
	want := []string{"lamp", SpriteAvatar, "chair"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("paint order = %v, want %v", order, want)
		}
	}

	// Screen placement: bottom-center anchor, sprite size in screen pixels.
	op := frame.Ops[2] // the chair
	if op.W != 120 || op.H != 140 {
		t.Fatalf("chair op size = %vx%v", op.W, op.H)
	}
	if op.X != 300-60 || op.Y != 560-140 {
		t.Fatalf("chair op at (%v,%v)", op.X, op.Y)
	}
}

func TestFrame_SelectionFlag(t *testing.T) {
	chair := roomdb.PlacedItem{InstanceID: "i-chair", ItemKey: "chair", X: 500, Y: 500, Scale: 1}
	f := newOwnerSim(t, roomWith(chair))
	f.sim.PointerDown(500, 480)

	frame := f.sim.Frame()
	var found bool
	for _, op := range frame.Ops {
		if op.Kind == DrawItem && op.SpriteKey == "chair" {
			found = true
			if !op.Selected {
				t.Fatalf("selected item not flagged")
			}
		}
	}
	if !found {
		t.Fatalf("chair op missing")
	}
}

func TestFrame_NotReadyIsEmpty(t *testing.T) {
	cfg := tuning.Defaults()
	cats := testCatalogs()
	// An asset set that failed its disk check renders nothing.
	sim := NewSimulation(cfg, ModeOwner, "owner1", "owner1", &Assets{sprites: cats.Sprites.Defs}, cats, &fakeLoader{room: emptyRoom()}, nil, nil, nil)
	sim.Resize(1000, 600)
	sim.Enter(context.Background())

	frame := sim.Frame()
	if frame.Ready || frame.Background != nil || len(frame.Ops) != 0 {
		t.Fatalf("not-ready frame = %+v", frame)
	}
}
