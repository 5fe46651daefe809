package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Items   ItemCatalog
	Sprites SpriteCatalog
}

type ItemCatalog struct {
	Keys   []string
	Defs   map[string]ItemDef
	Digest string
}

// ItemDef is one purchasable furniture definition. Read-only at runtime.
type ItemDef struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	SpriteKey    string  `json:"sprite_key"`
	DefaultScale float64 `json:"default_scale"`
	MaxOwned     int     `json:"max_owned"`
	PriceCoins   int     `json:"price_coins"`
	// Optional per-item scale bounds; zero means use the global ones.
	ScaleMin float64 `json:"scale_min,omitempty"`
	ScaleMax float64 `json:"scale_max,omitempty"`
}

type SpriteCatalog struct {
	Defs   map[string]SpriteDef
	Digest string
}

// SpriteDef records where a sprite lives and its source dimensions in world
// pixels. The renderer needs dimensions even when the image bytes never load.
type SpriteDef struct {
	Key    string  `json:"key"`
	Path   string  `json:"path"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadSprites(filepath.Join(configDir, "sprites.json"), &c.Sprites); err != nil {
		return nil, err
	}
	for _, d := range c.Items.Defs {
		if _, ok := c.Sprites.Defs[d.SpriteKey]; !ok {
			return nil, fmt.Errorf("items.json: %s references unknown sprite %q", d.Key, d.SpriteKey)
		}
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.Key == "" {
			return fmt.Errorf("items.json: empty key")
		}
		if d.DefaultScale <= 0 {
			d.DefaultScale = 1.0
		}
		if d.MaxOwned <= 0 {
			d.MaxOwned = 1
		}
		out.Defs[d.Key] = d
	}

	keys := make([]string, 0, len(out.Defs))
	for k := range out.Defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out.Keys = keys
	return nil
}

func loadSprites(path string, out *SpriteCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []SpriteDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("sprites.json: %w", err)
	}
	out.Defs = map[string]SpriteDef{}
	for _, d := range defs {
		if d.Key == "" {
			return fmt.Errorf("sprites.json: empty key")
		}
		if d.Width <= 0 || d.Height <= 0 {
			return fmt.Errorf("sprites.json: %s has non-positive dimensions", d.Key)
		}
		out.Defs[d.Key] = d
	}
	return nil
}
