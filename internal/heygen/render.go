package heygen

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// ErrInvalidRenderConfig is returned when a render configuration cannot be used.
var ErrInvalidRenderConfig = errors.New("heygen: invalid render config")

// RenderConfig describes how HeyGen should render the talking photo.
// It is forwarded into the generate payload without modification.
type RenderConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`

	TalkingStyle      string  `toml:"talking_style"`
	Expression        string  `toml:"expression"`
	TalkingPhotoStyle string  `toml:"talking_photo_style"`
	Scale             float64 `toml:"scale"`
	OffsetX           float64 `toml:"offset_x"`
	OffsetY           float64 `toml:"offset_y"`

	Speed   float64 `toml:"speed"`
	Locale  string  `toml:"locale"`
	Emotion string  `toml:"emotion"`

	BackgroundColor string `toml:"background_color"`
}

// DefaultRenderConfig returns the render settings used when no file is given.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Width:             720,
		Height:            720,
		TalkingStyle:      "expressive",
		Expression:        "happy",
		TalkingPhotoStyle: "square",
		Scale:             1,
		Speed:             1,
		Locale:            "ru-RU",
		Emotion:           "Excited",
		BackgroundColor:   "#0E0E12",
	}
}

// LoadRenderConfig reads a TOML file on top of DefaultRenderConfig.
// Keys missing from the file keep their default values.
// An empty path returns the defaults.
func LoadRenderConfig(path string) (RenderConfig, error) {
	cfg := DefaultRenderConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return RenderConfig{}, fmt.Errorf("heygen: decode render config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return RenderConfig{}, err
	}
	return cfg, nil
}

// Validate checks the fields HeyGen rejects outright.
func (c RenderConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: dimension %dx%d", ErrInvalidRenderConfig, c.Width, c.Height)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("%w: scale must be positive", ErrInvalidRenderConfig)
	}
	if c.Speed <= 0 {
		return fmt.Errorf("%w: speed must be positive", ErrInvalidRenderConfig)
	}
	return nil
}

func (c RenderConfig) payload(talkingPhotoID, voiceID, script string) generatePayload {
	return generatePayload{
		Dimension: dimension{Width: c.Width, Height: c.Height},
		VideoInputs: []videoInput{{
			Character: character{
				Type:              "talking_photo",
				TalkingPhotoID:    talkingPhotoID,
				TalkingStyle:      c.TalkingStyle,
				Expression:        c.Expression,
				TalkingPhotoStyle: c.TalkingPhotoStyle,
				Scale:             c.Scale,
				Offset:            offset{X: c.OffsetX, Y: c.OffsetY},
			},
			Voice: voice{
				Type:      "text",
				VoiceID:   voiceID,
				InputText: script,
				Speed:     c.Speed,
				Locale:    c.Locale,
				Emotion:   c.Emotion,
			},
			Background: background{Type: "color", Value: c.BackgroundColor},
		}},
	}
}
