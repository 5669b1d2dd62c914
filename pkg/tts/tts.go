// Package tts turns assistant replies into speech audio.
//
// Providers return raw PCM16 so the result can be written straight to an
// audioio.Sink without decoding:
//
//	provider, _ := tts.NewOpenAI(tts.WithAPIKey(key), tts.WithVoice(tts.VoiceNova))
//	result, _ := provider.Synthesize(ctx, "Hello world")
//	// result.Audio is mono PCM16 at result.Format.SampleRate
package tts

import (
	"context"
	"time"
)

// Provider synthesizes speech.
type Provider interface {
	// Synthesize converts text to a complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks connectivity and credentials.
	Health(ctx context.Context) error

	Close() error
}

// AudioResult is a synthesized utterance.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration
	CharCount int
	LatencyMs int64
}

// AudioFormat describes the PCM layout of AudioResult.Audio.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding names an output format.
type Encoding string

const (
	EncodingPCM  Encoding = "pcm"
	EncodingWAV  Encoding = "wav"
	EncodingMP3  Encoding = "mp3"
	EncodingOpus Encoding = "opus"
)

// PCMSampleRate is the rate of the speech endpoint's raw PCM output.
const PCMSampleRate = 24000

// PCMDuration estimates the playback length of mono PCM16 audio.
func PCMDuration(audio []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(audio)/2) * time.Second / time.Duration(sampleRate)
}
