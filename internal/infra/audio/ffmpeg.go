package audio

import (
	"bytes"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// transcoder runs ffmpeg and exposes its stdout as a PCM streamer.
type transcoder struct {
	*pcmStreamer
	cmd    *exec.Cmd
	stderr bytes.Buffer
}

// ffmpegArgs builds the command line that decodes source to raw stereo PCM at rate.
func ffmpegArgs(source string, rate int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if track.IsURL(source) {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	return append(args,
		"-i", source,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", "2",
		"pipe:1",
	)
}

func startTranscoder(ffmpegPath, source string, rate int) (*transcoder, error) {
	t := &transcoder{}
	t.cmd = exec.Command(ffmpegPath, ffmpegArgs(source, rate)...)
	t.cmd.Stderr = &t.stderr

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ffmpeg stdout")
	}
	if err := t.cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", ffmpegPath)
	}

	zlog.Debug().Msgf("audio: ffmpeg started: pid=%d source=%s", t.cmd.Process.Pid, source)
	t.pcmStreamer = newPCMStreamer(stdout)
	return t, nil
}

// Close stops ffmpeg. An exit caused by Close is not an error; a failed
// exit reports ffmpeg's stderr.
func (t *transcoder) Close() error {
	_ = t.cmd.Process.Kill()
	err := t.cmd.Wait()
	if err == nil {
		return nil
	}
	if ps := t.cmd.ProcessState; ps != nil && !ps.Exited() {
		// Killed by us
		return nil
	}
	msg := strings.TrimSpace(t.stderr.String())
	if msg == "" {
		return errors.Wrap(err, "ffmpeg failed")
	}
	return errors.Wrapf(err, "ffmpeg failed: %s", msg)
}
