package filter

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// LocalFileConfig represents the configuration for LocalFileFilter.
type LocalFileConfig struct {
	Extensions []string `yaml:"extensions" mapstructure:"extensions" default:"[\".mp3\",\".wav\",\".flac\",\".ogg\",\".m4a\",\".webm\",\".opus\"]" validate:"min=1,dive,startswith=."`
	MaxSizeMB  float64  `yaml:"max_size_mb" mapstructure:"max_size_mb" validate:"gte=0"`
}

// LocalFileFilter checks that file tracks point to an existing, supported file.
type LocalFileFilter struct {
	config *LocalFileConfig
}

// NewLocalFileFilter creates a new local file filter.
func NewLocalFileFilter() *LocalFileFilter {
	return &LocalFileFilter{}
}

func (f *LocalFileFilter) Name() string {
	return "local_file_filter"
}

func (f *LocalFileFilter) Description() string {
	return "Checks that file tracks exist, are regular files of a supported type and within the size limit"
}

func (f *LocalFileFilter) ReturnCodes() []string {
	return []string{"file_not_found", "unsupported_format", "file_too_large"}
}

func (f *LocalFileFilter) ValidateConfig(settings map[string]any) error {
	var config LocalFileConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	for i, ext := range config.Extensions {
		config.Extensions[i] = strings.ToLower(ext)
	}
	f.config = &config
	zlog.Info().Msgf("local file filter config: %+v", config)
	return nil
}

func (f *LocalFileFilter) AppliesTo(producer track.Producer) bool {
	return true
}

func (f *LocalFileFilter) Check(ctx context.Context, t track.Track) Result {
	if t.IsStream {
		return Accept()
	}

	info, err := os.Stat(t.Source)
	if err != nil || !info.Mode().IsRegular() {
		return Reject("file_not_found")
	}

	// Without config only existence is checked
	if f.config == nil {
		return Accept()
	}

	if !f.supported(filepath.Ext(t.Source)) {
		return Reject("unsupported_format")
	}

	if f.config.MaxSizeMB > 0 && float64(info.Size()) > f.config.MaxSizeMB*1024*1024 {
		return Reject("file_too_large")
	}

	return Accept()
}

func (f *LocalFileFilter) supported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range f.config.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func init() {
	Register("local_file_filter", func() Filter {
		return &LocalFileFilter{}
	})
}
