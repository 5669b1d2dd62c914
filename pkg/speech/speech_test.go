package speech

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-jarvis/pkg/audioio"
	"github.com/teslashibe/go-jarvis/pkg/tts"
)

func newSink() *audioio.MockSink {
	return audioio.NewMockSink(audioio.DefaultConfig(), nil)
}

func TestSpeakerSpeak(t *testing.T) {
	sink := newSink()
	provider := tts.NewMock()
	s := NewSpeaker(provider, sink, nil)

	require.NoError(t, s.Speak(context.Background(), "Hi"))

	assert.Equal(t, 1, provider.CallCount("Synthesize"))
	assert.Len(t, sink.Played(), 960, "two chars of 20ms silence at 24 kHz")
	assert.Equal(t, 1, sink.Flushes())
	assert.Equal(t, int64(2), sink.Stats().Chunks, "written in 20ms chunks")
}

func TestSpeakerPlayResamples(t *testing.T) {
	sink := newSink()
	s := NewSpeaker(tts.NewMock(), sink, nil)

	pcm := audioio.SamplesToBytes(make([]int16, 1200))
	require.NoError(t, s.Play(context.Background(), pcm, 12000))
	assert.Len(t, sink.Played(), 2400)

	require.NoError(t, s.Play(context.Background(), nil, 24000))
	assert.Equal(t, 1, sink.Flushes(), "empty audio is not played")
}

func TestSpeakerCancelClearsSink(t *testing.T) {
	sink := newSink()
	ctx, cancel := context.WithCancel(context.Background())
	sink.WriteFunc = func(context.Context, audioio.AudioChunk) error {
		cancel()
		return nil
	}
	s := NewSpeaker(tts.NewMock(), sink, nil)

	err := s.Play(ctx, make([]byte, 9600), 24000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sink.Clears())
	assert.Empty(t, sink.Played())
}

func TestSpeakerSynthesisError(t *testing.T) {
	boom := errors.New("quota")
	s := NewSpeaker(tts.WithError(boom), newSink(), nil)
	assert.ErrorIs(t, s.Speak(context.Background(), "hello"), boom)
}

func TestSpeakerSerializesPlayback(t *testing.T) {
	sink := newSink()
	active := 0
	overlap := false
	sink.WriteFunc = func(context.Context, audioio.AudioChunk) error {
		active++
		if active > 1 {
			overlap = true
		}
		time.Sleep(time.Millisecond)
		active--
		return nil
	}
	s := NewSpeaker(tts.NewMock(), sink, nil)

	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			_ = s.Play(context.Background(), make([]byte, 1920), 24000)
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	assert.False(t, overlap)
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextOutput(&buf, "Jarvis")
	require.NoError(t, out.Speak(context.Background(), "It is 3 PM."))
	assert.Equal(t, "Jarvis: It is 3 PM.\n", buf.String())

	buf.Reset()
	require.NoError(t, NewTextOutput(&buf, "").Speak(context.Background(), "plain"))
	assert.Equal(t, "plain\n", buf.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, out.Speak(ctx, "late"), context.Canceled)
}

func TestMocks(t *testing.T) {
	m := NewMock()
	_ = m.Speak(context.Background(), "one")
	_ = m.Speak(context.Background(), "two")
	assert.Equal(t, []string{"one", "two"}, m.Spoken())

	var out Output = m
	_, isPlayer := out.(Player)
	assert.False(t, isPlayer)

	p := NewPlayerMock()
	require.NoError(t, p.Play(context.Background(), []byte{1, 2}, 24000))
	assert.Equal(t, [][]byte{{1, 2}}, p.Played())
}
