package audio

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

const pcmFrameSize = 4 // s16le, two channels

// pcmStreamer reads interleaved signed 16-bit little-endian stereo PCM.
type pcmStreamer struct {
	r   *bufio.Reader
	buf []byte
	err error
}

func newPCMStreamer(r io.Reader) *pcmStreamer {
	return &pcmStreamer{r: bufio.NewReaderSize(r, 64*1024)}
}

// Stream implements beep.Streamer.
func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.err != nil {
		return 0, false
	}

	need := len(samples) * pcmFrameSize
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	read, err := io.ReadFull(s.r, buf)
	frames := read / pcmFrameSize
	for i := 0; i < frames; i++ {
		frame := buf[i*pcmFrameSize:]
		samples[i][0] = float64(int16(binary.LittleEndian.Uint16(frame[0:2]))) / 32768
		samples[i][1] = float64(int16(binary.LittleEndian.Uint16(frame[2:4]))) / 32768
	}

	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = io.EOF
		} else {
			s.err = errors.Wrap(err, "failed to read pcm")
		}
		if frames == 0 {
			return 0, false
		}
	}
	return frames, true
}

// Err implements beep.Streamer. End of input is not an error.
func (s *pcmStreamer) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}
