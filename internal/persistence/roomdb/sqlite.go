// Package roomdb is the durable store behind the room engine: one room per
// user (furniture placements, wallpaper, the owner's last rest pose), plus
// per-user inventory rows and coin wallets. Live avatar movement never lands
// here; only the owner's reduced-cadence resume point does.
package roomdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"beaverden.app/internal/sim/catalogs"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")
	ErrNoCoins    = errors.New("insufficient coins")
)

// Bounds are the legal ranges every persisted placement is clamped to.
type Bounds struct {
	RoomW    float64
	RoomH    float64
	ScaleMin float64
	ScaleMax float64
}

// Spawn is the rest pose a freshly created room starts with.
type Spawn struct {
	X   float64
	Y   float64
	Dir string
}

type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Dir string  `json:"dir"`
}

type PlacedItem struct {
	InstanceID string  `json:"instance_id"`
	ItemKey    string  `json:"item_key"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Scale      float64 `json:"scale"`
}

type Room struct {
	OwnerID      string       `json:"owner_id"`
	WallpaperKey string       `json:"wallpaper_key"`
	RestPose     Pose         `json:"rest_pose"`
	PlacedItems  []PlacedItem `json:"placed_items"`
}

type InventoryRow struct {
	ItemKey string `json:"item_key"`
	Qty     int    `json:"qty"`
}

type RemoveResult struct {
	ItemKey     string `json:"item_key"`
	RefundedQty int    `json:"refunded_qty"`
}

type Store struct {
	db     *sql.DB
	bounds Bounds
	spawn  Spawn
	cats   *catalogs.Catalogs

	startingCoins int
}

func Open(path string, bounds Bounds, spawn Spawn, cats *catalogs.Catalogs, startingCoins int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, bounds: bounds, spawn: spawn, cats: cats, startingCoins: startingCoins}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			owner_id TEXT PRIMARY KEY,
			wallpaper_key TEXT NOT NULL DEFAULT '',
			pose_x REAL NOT NULL,
			pose_y REAL NOT NULL,
			pose_dir TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);`,
		`CREATE TABLE IF NOT EXISTS placed_items (
			instance_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES rooms(owner_id),
			item_key TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			scale REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placed_owner ON placed_items(owner_id);`,
		`CREATE TABLE IF NOT EXISTS inventory (
			user_id TEXT NOT NULL,
			item_key TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty >= 0),
			PRIMARY KEY (user_id, item_key)
		);`,
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			coins INTEGER NOT NULL CHECK (coins >= 0)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadOrCreate returns the caller's own room, creating a default empty one
// (and seeding the wallet) on first access. Idempotent.
func (s *Store) LoadOrCreate(ctx context.Context, userID string) (Room, error) {
	if userID == "" {
		return Room{}, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO rooms (owner_id, pose_x, pose_y, pose_dir) VALUES (?, ?, ?, ?)`,
		userID, s.spawn.X, s.spawn.Y, s.spawn.Dir); err != nil {
		return Room{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (user_id, coins) VALUES (?, ?)`,
		userID, s.startingCoins); err != nil {
		return Room{}, err
	}

	room, err := loadRoomTx(ctx, tx, userID)
	if err != nil {
		return Room{}, err
	}
	return room, tx.Commit()
}

// LoadReadOnly is the visitor read path. No side effects; a missing room is
// ErrNotFound.
func (s *Store) LoadReadOnly(ctx context.Context, ownerID string) (Room, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback()
	room, err := loadRoomTx(ctx, tx, ownerID)
	if err != nil {
		return Room{}, err
	}
	return room, tx.Commit()
}

func loadRoomTx(ctx context.Context, tx *sql.Tx, ownerID string) (Room, error) {
	var room Room
	room.OwnerID = ownerID
	err := tx.QueryRowContext(ctx,
		`SELECT wallpaper_key, pose_x, pose_y, pose_dir FROM rooms WHERE owner_id = ?`, ownerID).
		Scan(&room.WallpaperKey, &room.RestPose.X, &room.RestPose.Y, &room.RestPose.Dir)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return Room{}, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT instance_id, item_key, x, y, scale FROM placed_items WHERE owner_id = ? ORDER BY rowid`, ownerID)
	if err != nil {
		return Room{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it PlacedItem
		if err := rows.Scan(&it.InstanceID, &it.ItemKey, &it.X, &it.Y, &it.Scale); err != nil {
			return Room{}, err
		}
		room.PlacedItems = append(room.PlacedItems, it)
	}
	return room, rows.Err()
}

// Place creates a new instance of itemKey in the caller's room, consuming
// exactly one inventory unit. Rejected when the catalog key is unknown, when
// the inventory has no unit left, or when the item is max_owned=1 and an
// instance is already placed. Inventory decrement and placement insert commit
// atomically: there is no partial effect.
func (s *Store) Place(ctx context.Context, userID, itemKey string, x, y, scale float64) (PlacedItem, error) {
	def, ok := s.cats.Items.Defs[itemKey]
	if !ok {
		return PlacedItem{}, fmt.Errorf("item %q: %w", itemKey, ErrValidation)
	}
	if scale <= 0 {
		scale = def.DefaultScale
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PlacedItem{}, err
	}
	defer tx.Rollback()

	if err := requireRoomTx(ctx, tx, userID); err != nil {
		return PlacedItem{}, err
	}

	if def.MaxOwned == 1 {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM placed_items WHERE owner_id = ? AND item_key = ?`, userID, itemKey).Scan(&n); err != nil {
			return PlacedItem{}, err
		}
		if n > 0 {
			return PlacedItem{}, fmt.Errorf("item %q already placed: %w", itemKey, ErrConflict)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE inventory SET qty = qty - 1 WHERE user_id = ? AND item_key = ? AND qty >= 1`, userID, itemKey)
	if err != nil {
		return PlacedItem{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return PlacedItem{}, fmt.Errorf("no %q in inventory: %w", itemKey, ErrConflict)
	}

	it := PlacedItem{
		InstanceID: uuid.NewString(),
		ItemKey:    itemKey,
		X:          clamp(x, 0, s.bounds.RoomW),
		Y:          clamp(y, 0, s.bounds.RoomH),
		Scale:      s.clampScale(def, scale),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO placed_items (instance_id, owner_id, item_key, x, y, scale) VALUES (?, ?, ?, ?, ?, ?)`,
		it.InstanceID, userID, it.ItemKey, it.X, it.Y, it.Scale); err != nil {
		return PlacedItem{}, err
	}
	return it, tx.Commit()
}

// Remove deletes the instance and unconditionally refunds one inventory unit
// for its item key.
func (s *Store) Remove(ctx context.Context, userID, instanceID string) (RemoveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RemoveResult{}, err
	}
	defer tx.Rollback()

	var itemKey string
	err = tx.QueryRowContext(ctx,
		`SELECT item_key FROM placed_items WHERE instance_id = ? AND owner_id = ?`, instanceID, userID).Scan(&itemKey)
	if errors.Is(err, sql.ErrNoRows) {
		return RemoveResult{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return RemoveResult{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM placed_items WHERE instance_id = ?`, instanceID); err != nil {
		return RemoveResult{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO inventory (user_id, item_key, qty) VALUES (?, ?, 1)
		 ON CONFLICT(user_id, item_key) DO UPDATE SET qty = qty + 1`, userID, itemKey); err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{ItemKey: itemKey, RefundedQty: 1}, tx.Commit()
}

// PatchItem repositions/rescales an instance in the caller's own room,
// clamping all three values to their legal ranges before saving.
func (s *Store) PatchItem(ctx context.Context, userID, instanceID string, x, y, scale float64) (PlacedItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PlacedItem{}, err
	}
	defer tx.Rollback()

	var itemKey string
	err = tx.QueryRowContext(ctx,
		`SELECT item_key FROM placed_items WHERE instance_id = ? AND owner_id = ?`, instanceID, userID).Scan(&itemKey)
	if errors.Is(err, sql.ErrNoRows) {
		return PlacedItem{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return PlacedItem{}, err
	}

	def := s.cats.Items.Defs[itemKey]
	it := PlacedItem{
		InstanceID: instanceID,
		ItemKey:    itemKey,
		X:          clamp(x, 0, s.bounds.RoomW),
		Y:          clamp(y, 0, s.bounds.RoomH),
		Scale:      s.clampScale(def, scale),
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE placed_items SET x = ?, y = ?, scale = ? WHERE instance_id = ?`,
		it.X, it.Y, it.Scale, instanceID); err != nil {
		return PlacedItem{}, err
	}
	return it, tx.Commit()
}

// PatchRestPose updates the durable resume point. The simulation already
// keeps poses legal, so only room bounds are enforced here.
func (s *Store) PatchRestPose(ctx context.Context, userID string, x, y float64, dir string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET pose_x = ?, pose_y = ?, pose_dir = ?, updated_at = unixepoch() WHERE owner_id = ?`,
		clamp(x, 0, s.bounds.RoomW), clamp(y, 0, s.bounds.RoomH), dir, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %s: %w", userID, ErrNotFound)
	}
	return nil
}

// PatchWallpaper swaps the room's wallpaper key.
func (s *Store) PatchWallpaper(ctx context.Context, userID, wallpaperKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET wallpaper_key = ?, updated_at = unixepoch() WHERE owner_id = ?`, wallpaperKey, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %s: %w", userID, ErrNotFound)
	}
	return nil
}

// Inventory returns the caller's owned quantities, zero rows omitted.
func (s *Store) Inventory(ctx context.Context, userID string) ([]InventoryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_key, qty FROM inventory WHERE user_id = ? AND qty > 0 ORDER BY item_key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InventoryRow
	for rows.Next() {
		var r InventoryRow
		if err := rows.Scan(&r.ItemKey, &r.Qty); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Coins returns the wallet balance.
func (s *Store) Coins(ctx context.Context, userID string) (int, error) {
	var coins int
	err := s.db.QueryRowContext(ctx, `SELECT coins FROM wallets WHERE user_id = ?`, userID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("wallet %s: %w", userID, ErrNotFound)
	}
	return coins, err
}

// CreditCoins awards coins (the quest/leveling system calls this).
func (s *Store) CreditCoins(ctx context.Context, userID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative credit", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, coins) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET coins = coins + ?`, userID, amount, amount)
	return err
}

// Buy spends coins for one inventory unit of itemKey. Rejected when the key
// is unknown, the wallet is short, or owned+placed already reaches the
// catalog's max_owned cap.
func (s *Store) Buy(ctx context.Context, userID, itemKey string) (InventoryRow, error) {
	def, ok := s.cats.Items.Defs[itemKey]
	if !ok {
		return InventoryRow{}, fmt.Errorf("item %q: %w", itemKey, ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InventoryRow{}, err
	}
	defer tx.Rollback()

	var owned, placed int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT qty FROM inventory WHERE user_id = ? AND item_key = ?), 0)`, userID, itemKey).Scan(&owned); err != nil {
		return InventoryRow{}, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM placed_items WHERE owner_id = ? AND item_key = ?`, userID, itemKey).Scan(&placed); err != nil {
		return InventoryRow{}, err
	}
	if owned+placed >= def.MaxOwned {
		return InventoryRow{}, fmt.Errorf("item %q at max_owned: %w", itemKey, ErrConflict)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET coins = coins - ? WHERE user_id = ? AND coins >= ?`, def.PriceCoins, userID, def.PriceCoins)
	if err != nil {
		return InventoryRow{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return InventoryRow{}, fmt.Errorf("buy %q: %w", itemKey, ErrNoCoins)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO inventory (user_id, item_key, qty) VALUES (?, ?, 1)
		 ON CONFLICT(user_id, item_key) DO UPDATE SET qty = qty + 1`, userID, itemKey); err != nil {
		return InventoryRow{}, err
	}

	row := InventoryRow{ItemKey: itemKey, Qty: owned + 1}
	return row, tx.Commit()
}

func requireRoomTx(ctx context.Context, tx *sql.Tx, ownerID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE owner_id = ?`, ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("room %s: %w", ownerID, ErrNotFound)
	}
	return err
}

func (s *Store) clampScale(def catalogs.ItemDef, scale float64) float64 {
	lo, hi := s.bounds.ScaleMin, s.bounds.ScaleMax
	if def.ScaleMin > 0 {
		lo = def.ScaleMin
	}
	if def.ScaleMax > 0 {
		hi = def.ScaleMax
	}
	return clamp(scale, lo, hi)
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
