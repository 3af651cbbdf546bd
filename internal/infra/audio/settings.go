package audio

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Settings configures the speaker output.
type Settings struct {
	SampleRate      int    `yaml:"sample_rate" mapstructure:"sample_rate" default:"48000" validate:"gte=8000,lte=192000"`
	BufferMs        int    `yaml:"buffer_ms" mapstructure:"buffer_ms" default:"100" validate:"gte=10,lte=2000"`
	FFmpegPath      string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path" default:"ffmpeg" validate:"required"`
	ResampleQuality int    `yaml:"resample_quality" mapstructure:"resample_quality" default:"4" validate:"gte=1,lte=64"`
}

// DecodeSettings decodes free-form output settings, applies defaults and validates them.
func DecodeSettings(settings map[string]any) (Settings, error) {
	var s Settings

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Settings{}, errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return Settings{}, errors.Wrap(err, "failed to decode output settings")
	}

	if err := defaults.Set(&s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return Settings{}, errors.Wrap(err, "output settings validation failed")
	}

	return s, nil
}
