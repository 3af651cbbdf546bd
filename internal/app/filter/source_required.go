package filter

import (
	"context"
	"strings"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// SourceRequiredFilter rejects tracks without a source.
// It is always part of the chain.
type SourceRequiredFilter struct{}

func (f *SourceRequiredFilter) Name() string {
	return "source_required"
}

func (f *SourceRequiredFilter) Description() string {
	return "Rejects tracks without a file path or stream locator"
}

func (f *SourceRequiredFilter) ReturnCodes() []string {
	return []string{"source_missing"}
}

func (f *SourceRequiredFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *SourceRequiredFilter) AppliesTo(producer track.Producer) bool {
	return true
}

func (f *SourceRequiredFilter) Check(ctx context.Context, t track.Track) Result {
	if strings.TrimSpace(t.Source) == "" {
		return Reject("source_missing")
	}
	return Accept()
}

func init() {
	Register("source_required", func() Filter {
		return &SourceRequiredFilter{}
	})
}
