package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"20" validate:"gte=1,lte=1000"`
}

// QueueLimitFilter rejects submissions once too many tracks are waiting.
type QueueLimitFilter struct {
	config *QueueLimitConfig
	queue  QueueReader
}

// NewQueueLimitFilter creates a new queue limit filter.
func NewQueueLimitFilter(queue QueueReader) *QueueLimitFilter {
	return &QueueLimitFilter{queue: queue}
}

func (f *QueueLimitFilter) Name() string {
	return "queue_limit_filter"
}

func (f *QueueLimitFilter) Description() string {
	return "Rejects requests while the queue holds the maximum number of pending tracks"
}

func (f *QueueLimitFilter) ReturnCodes() []string {
	return []string{"queue_full"}
}

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("queue limit filter config: %+v", config)
	return nil
}

func (f *QueueLimitFilter) AppliesTo(producer track.Producer) bool {
	// System and spoken tracks bypass the limit
	return producer == track.ProducerUser || producer == track.ProducerYouTube
}

// SetQueue sets the queue the filter inspects.
func (f *QueueLimitFilter) SetQueue(q QueueReader) {
	f.queue = q
}

func (f *QueueLimitFilter) Check(ctx context.Context, t track.Track) Result {
	if f.config == nil || f.queue == nil {
		return Accept()
	}
	if len(f.queue.QueuedTracks()) >= f.config.MaxPending {
		return Reject("queue_full")
	}
	return Accept()
}

func init() {
	Register("queue_limit_filter", func() Filter {
		return &QueueLimitFilter{}
	})
}
