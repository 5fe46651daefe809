package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	RoomW float64 `yaml:"room_w"`
	RoomH float64 `yaml:"room_h"`

	AvatarSpeed    float64 `yaml:"avatar_speed"`
	MaxTickSeconds float64 `yaml:"max_tick_seconds"`

	SpawnX   float64 `yaml:"spawn_x"`
	SpawnY   float64 `yaml:"spawn_y"`
	SpawnDir string  `yaml:"spawn_dir"`

	ScaleMin     float64 `yaml:"scale_min"`
	ScaleMax     float64 `yaml:"scale_max"`
	WheelUp      float64 `yaml:"wheel_up"`
	WheelDown    float64 `yaml:"wheel_down"`
	ScaleKeyRate float64 `yaml:"scale_key_rate"`

	Floor Floor `yaml:"floor"`

	Presence Presence `yaml:"presence"`

	// Durable write cadences (seconds).
	PoseSaveInterval float64 `yaml:"pose_save_interval"`
	EditDebounce     float64 `yaml:"edit_debounce"`
}

// Floor is the piecewise-linear seam between back wall and floor. Avatars may
// not stand above FloorTopY(x)+Margin.
type Floor struct {
	Points [][2]float64 `yaml:"points"`
	Margin float64      `yaml:"margin"`
}

type Presence struct {
	SendRateHz   float64 `yaml:"send_rate_hz"`
	MinSendDelta float64 `yaml:"min_send_delta"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		RoomW:           1000,
		RoomH:           600,
		AvatarSpeed:     220,
		MaxTickSeconds:  0.05,
		SpawnX:          525,
		SpawnY:          510,
		SpawnDir:        "down",
		ScaleMin:        0.25,
		ScaleMax:        3.0,
		WheelUp:         1.06,
		WheelDown:       0.94,
		ScaleKeyRate:    1.2,
		Floor: Floor{
			Points: [][2]float64{{0, 330}, {500, 400}, {1000, 330}},
			Margin: 24,
		},
		Presence: Presence{
			SendRateHz:   15,
			MinSendDelta: 0.25,
		},
		PoseSaveInterval: 1.5,
		EditDebounce:     0.4,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if t.RoomW <= 0 || t.RoomH <= 0 {
		return fmt.Errorf("room dimensions must be positive")
	}
	if t.ScaleMin <= 0 || t.ScaleMax < t.ScaleMin {
		return fmt.Errorf("bad scale bounds [%v,%v]", t.ScaleMin, t.ScaleMax)
	}
	if len(t.Floor.Points) < 2 {
		return fmt.Errorf("floor needs at least two control points")
	}
	for i := 1; i < len(t.Floor.Points); i++ {
		if t.Floor.Points[i][0] <= t.Floor.Points[i-1][0] {
			return fmt.Errorf("floor points must have strictly increasing x")
		}
	}
	if t.Presence.SendRateHz <= 0 {
		return fmt.Errorf("presence send rate must be positive")
	}
	return nil
}
