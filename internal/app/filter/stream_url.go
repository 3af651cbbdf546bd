package filter

import (
	"context"
	"net/url"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// StreamURLConfig represents the configuration for StreamURLFilter.
type StreamURLConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts" validate:"dive,hostname"`
}

// StreamURLFilter checks that stream tracks carry a web locator and, if
// configured, that the host is allowed.
type StreamURLFilter struct {
	config *StreamURLConfig
}

// NewStreamURLFilter creates a new stream URL filter.
func NewStreamURLFilter() *StreamURLFilter {
	return &StreamURLFilter{}
}

func (f *StreamURLFilter) Name() string {
	return "stream_url_filter"
}

func (f *StreamURLFilter) Description() string {
	return "Checks that stream locators look like web URLs from an allowed host"
}

func (f *StreamURLFilter) ReturnCodes() []string {
	return []string{"invalid_stream_url", "stream_host_not_allowed"}
}

func (f *StreamURLFilter) ValidateConfig(settings map[string]any) error {
	var config StreamURLConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	for i, host := range config.AllowedHosts {
		config.AllowedHosts[i] = strings.ToLower(host)
	}
	f.config = &config
	zlog.Info().Msgf("stream url filter config: %+v", config)
	return nil
}

func (f *StreamURLFilter) AppliesTo(producer track.Producer) bool {
	return true
}

func (f *StreamURLFilter) Check(ctx context.Context, t track.Track) Result {
	if !t.IsStream {
		return Accept()
	}
	if !track.IsURL(t.Source) {
		return Reject("invalid_stream_url")
	}

	if f.config == nil || len(f.config.AllowedHosts) == 0 {
		return Accept()
	}

	locator := strings.TrimSpace(t.Source)
	if !strings.Contains(locator, "://") {
		locator = "https://" + locator
	}
	u, err := url.Parse(locator)
	if err != nil {
		return Reject("invalid_stream_url")
	}

	if !f.allowed(strings.ToLower(u.Hostname())) {
		return Reject("stream_host_not_allowed")
	}
	return Accept()
}

// allowed matches the host itself or any subdomain of an allowed host.
func (f *StreamURLFilter) allowed(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, allowed := range f.config.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func init() {
	Register("stream_url_filter", func() Filter {
		return &StreamURLFilter{}
	})
}
