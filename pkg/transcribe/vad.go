package transcribe

import (
	"time"

	"github.com/teslashibe/go-jarvis/pkg/audioio"
)

// VADConfig tunes the energy-based segmenter.
type VADConfig struct {
	// Threshold is the RMS level (0..1) that counts as speech.
	Threshold float64
	// PrefixPadding is audio kept from before speech starts.
	PrefixPadding time.Duration
	// SilenceDuration of quiet ends an utterance.
	SilenceDuration time.Duration
	// MinSpeech discards blips shorter than this.
	MinSpeech time.Duration
	// MaxUtterance cuts runaway segments.
	MaxUtterance time.Duration
}

// DefaultVADConfig returns settings tuned for a desk microphone.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:       0.02,
		PrefixPadding:   300 * time.Millisecond,
		SilenceDuration: 700 * time.Millisecond,
		MinSpeech:       200 * time.Millisecond,
		MaxUtterance:    30 * time.Second,
	}
}

// Segmenter splits a chunk stream into speech segments.
type Segmenter struct {
	cfg VADConfig

	prefix    []audioio.AudioChunk
	prefixDur time.Duration

	inSpeech bool
	segment  []int16
	rate     int
	channels int
	total    time.Duration
	voiced   time.Duration
	silence  time.Duration
}

// NewSegmenter creates a segmenter.
func NewSegmenter(cfg VADConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Feed consumes one chunk. It returns a finished segment when speech ends
// or MaxUtterance is reached.
func (s *Segmenter) Feed(chunk audioio.AudioChunk) (audioio.AudioChunk, bool) {
	dur := chunk.Duration()
	loud := audioio.Level(chunk.Samples) >= s.cfg.Threshold

	if !s.inSpeech {
		if !loud {
			s.pushPrefix(chunk, dur)
			return audioio.AudioChunk{}, false
		}
		s.begin(chunk)
	}

	s.segment = append(s.segment, chunk.Samples...)
	s.total += dur
	if loud {
		s.voiced += dur
		s.silence = 0
	} else {
		s.silence += dur
	}

	if s.silence >= s.cfg.SilenceDuration || (s.cfg.MaxUtterance > 0 && s.total >= s.cfg.MaxUtterance) {
		return s.finish()
	}
	return audioio.AudioChunk{}, false
}

// Flush ends any segment in progress.
func (s *Segmenter) Flush() (audioio.AudioChunk, bool) {
	if !s.inSpeech {
		return audioio.AudioChunk{}, false
	}
	return s.finish()
}

// InSpeech reports whether a segment is open.
func (s *Segmenter) InSpeech() bool { return s.inSpeech }

func (s *Segmenter) begin(first audioio.AudioChunk) {
	s.inSpeech = true
	s.rate, s.channels = first.SampleRate, first.Channels
	s.segment = s.segment[:0]
	s.total, s.voiced, s.silence = 0, 0, 0
	for _, c := range s.prefix {
		s.segment = append(s.segment, c.Samples...)
		s.total += c.Duration()
	}
	s.prefix, s.prefixDur = nil, 0
}

func (s *Segmenter) finish() (audioio.AudioChunk, bool) {
	out := audioio.AudioChunk{
		Samples:    append([]int16(nil), s.segment...),
		SampleRate: s.rate,
		Channels:   s.channels,
	}
	ok := s.voiced >= s.cfg.MinSpeech
	s.inSpeech = false
	s.segment = s.segment[:0]
	s.total, s.voiced, s.silence = 0, 0, 0
	return out, ok
}

func (s *Segmenter) pushPrefix(chunk audioio.AudioChunk, dur time.Duration) {
	if s.cfg.PrefixPadding <= 0 {
		return
	}
	s.prefix = append(s.prefix, chunk)
	s.prefixDur += dur
	for len(s.prefix) > 1 && s.prefixDur-s.prefix[0].Duration() >= s.cfg.PrefixPadding {
		s.prefixDur -= s.prefix[0].Duration()
		s.prefix = s.prefix[1:]
	}
}
