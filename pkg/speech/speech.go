// Package speech delivers assistant replies to the user.
package speech

import "context"

// Output speaks text.
type Output interface {
	Speak(ctx context.Context, text string) error
}

// Player is implemented by outputs that can play pre-synthesized mono
// PCM16 audio, such as realtime reply audio.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}
