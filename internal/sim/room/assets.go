package room

import (
	"log"
	"os"
	"path/filepath"

	"beaverden.app/internal/sim/catalogs"
)

// Sprite keys every room needs regardless of catalog content.
const (
	SpriteRoomBg = "room_bg"
	SpriteAvatar = "beaver"
)

// Assets resolves sprite keys to their definitions and knows whether every
// required visual actually exists on disk. A missing asset leaves the
// simulation in a permanent "not ready" visual state; there is no retry.
type Assets struct {
	sprites map[string]catalogs.SpriteDef
	ready   bool
}

// LoadAssets checks that the background, the avatar sheet and every catalog
// item's sprite file is present under baseDir. Failures are logged and folded
// into Ready().
func LoadAssets(cats *catalogs.Catalogs, baseDir string, logger *log.Logger) *Assets {
	a := &Assets{sprites: cats.Sprites.Defs, ready: true}

	required := []string{SpriteRoomBg, SpriteAvatar}
	for _, d := range cats.Items.Defs {
		required = append(required, d.SpriteKey)
	}
	for _, key := range required {
		def, ok := a.sprites[key]
		if !ok {
			a.ready = false
			if logger != nil {
				logger.Printf("assets: sprite %q not in manifest", key)
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(baseDir, def.Path)); err != nil {
			a.ready = false
			if logger != nil {
				logger.Printf("assets: load %q: %v", key, err)
			}
		}
	}
	return a
}

// StaticAssets trusts the manifest without touching the filesystem. Used by
// the bot (which never renders pixels) and by tests.
func StaticAssets(cats *catalogs.Catalogs) *Assets {
	return &Assets{sprites: cats.Sprites.Defs, ready: true}
}

func (a *Assets) Ready() bool { return a.ready }

func (a *Assets) Sprite(key string) (catalogs.SpriteDef, bool) {
	d, ok := a.sprites[key]
	return d, ok
}
