package speech

import (
	"context"
	"sync"
)

// Mock records everything spoken or played.
type Mock struct {
	// SpeakFunc, when set, runs before the text is recorded. Returning an
	// error skips recording.
	SpeakFunc func(ctx context.Context, text string) error

	// PlayFunc, when set, makes the mock a Player. Use NewPlayerMock for
	// the default recording behavior.
	PlayFunc func(ctx context.Context, pcm []byte, sampleRate int) error

	mu     sync.Mutex
	spoken []string
	played [][]byte
}

// NewMock creates a text-only mock.
func NewMock() *Mock { return &Mock{} }

// Speak records text.
func (m *Mock) Speak(ctx context.Context, text string) error {
	if m.SpeakFunc != nil {
		if err := m.SpeakFunc(ctx, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return nil
}

// Spoken returns recorded texts in order.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

// Played returns recorded audio buffers in order.
func (m *Mock) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.played...)
}

// PlayerMock is a Mock that also implements Player.
type PlayerMock struct {
	*Mock
}

// NewPlayerMock creates a mock that records PCM playback.
func NewPlayerMock() *PlayerMock { return &PlayerMock{Mock: NewMock()} }

// Play records pcm.
func (p *PlayerMock) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if p.PlayFunc != nil {
		if err := p.PlayFunc(ctx, pcm, sampleRate); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, append([]byte(nil), pcm...))
	return nil
}

var (
	_ Output = (*Mock)(nil)
	_ Player = (*PlayerMock)(nil)
)
