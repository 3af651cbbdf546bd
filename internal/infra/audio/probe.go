package audio

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// Errors
var (
	ErrNoFile   = errors.New("track file not found")
	ErrNoStream = errors.New("stream is not reachable")
)

// Probe checks that a track's source exists before it reaches the device.
type Probe struct {
	client       *http.Client
	probeStreams bool
}

// NewProbe creates a probe. When probeStreams is false, stream locators are
// only normalized.
func NewProbe(client *http.Client, probeStreams bool) *Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return &Probe{
		client:       client,
		probeStreams: probeStreams,
	}
}

// Resolve returns the source to hand to the device.
func (p *Probe) Resolve(ctx context.Context, t track.Track) (string, error) {
	if !t.IsStream {
		return resolveFile(t.Source)
	}

	locator := normalizeLocator(t.Source)
	if !p.probeStreams {
		return locator, nil
	}
	if err := p.probe(ctx, locator); err != nil {
		return "", err
	}
	return locator, nil
}

func resolveFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(ErrNoFile, "%s", path)
		}
		return "", errors.Wrapf(err, "failed to stat %s", path)
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("%s is not a regular file", path)
	}
	return path, nil
}

// normalizeLocator adds a scheme to bare locators such as "example.com/live".
func normalizeLocator(locator string) string {
	locator = strings.TrimSpace(locator)
	if strings.Contains(locator, "://") {
		return locator
	}
	return "https://" + locator
}

// probe sends HEAD, falling back to a one-byte ranged GET for servers that
// reject HEAD.
func (p *Probe) probe(ctx context.Context, locator string) error {
	status, err := p.do(ctx, http.MethodHead, locator)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		zlog.Debug().Msgf("audio: HEAD not supported, retrying with GET: url=%s", locator)
		if status, err = p.do(ctx, http.MethodGet, locator); err != nil {
			return err
		}
	}

	if status >= http.StatusBadRequest {
		return errors.Wrapf(ErrNoStream, "%s returned status %d", locator, status)
	}
	return nil
}

func (p *Probe) do(ctx context.Context, method, locator string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, locator, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid stream locator %s", locator)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(ErrNoStream, "%s: %v", locator, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}
