package transcribe

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-jarvis/internal/log"
)

func collect(t *testing.T, ch <-chan Utterance) []string {
	t.Helper()
	var texts []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return texts
			}
			texts = append(texts, u.Text)
		case <-timeout:
			t.Fatal("utterance channel was not closed")
		}
	}
}

func TestConsoleReadsLines(t *testing.T) {
	in := strings.NewReader("what time is it\n\n   \n  remember my color is blue  \n")
	var prompt bytes.Buffer
	c := NewConsole(in, WithPrompt(&prompt, "> "), WithConsoleLogger(log.Discard()))

	ctx := context.Background()
	require.ErrorIs(t, c.StartListening(ctx), ErrNotInitialized)
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartListening(ctx))

	assert.Equal(t, []string{"what time is it", "remember my color is blue"}, collect(t, c.Utterances()))
	assert.Contains(t, prompt.String(), "> ")
}

func TestConsoleDiscardsWhileStopped(t *testing.T) {
	pr, pw := ioPipe()
	c := NewConsole(pr, WithConsoleLogger(log.Discard()))
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartListening(ctx))

	pw.write("first\n")
	u := <-c.Utterances()
	assert.Equal(t, "first", u.Text)

	require.NoError(t, c.StopListening())
	pw.write("ignored\n")
	pw.write("\n") // returns once the previous line has been handled
	require.NoError(t, c.StartListening(ctx))
	pw.write("second\n")
	pw.close()

	assert.Equal(t, []string{"second"}, collect(t, c.Utterances()))
}

func TestNewUtteranceIDsSortByTime(t *testing.T) {
	a := NewUtterance("a")
	time.Sleep(2 * time.Millisecond)
	b := NewUtterance("b")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Negative(t, a.ID.Compare(b.ID))
	assert.False(t, a.At.IsZero())
}

func TestMockTranscriber(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.ErrorIs(t, m.StartListening(ctx), ErrNotInitialized)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.StartListening(ctx))
	assert.True(t, m.Listening())

	u := m.Say("hello")
	m.Deliver(u)
	got := <-m.Utterances()
	again := <-m.Utterances()
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, got.ID, again.ID)

	require.NoError(t, m.StopListening())
	require.NoError(t, m.StopListening())
	initialized, starts, stops := m.Counts()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{initialized, starts, stops})

	m.Close()
	m.Close()
	_, ok := <-m.Utterances()
	assert.False(t, ok)
}
