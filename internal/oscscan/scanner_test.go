package oscscan

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSingleNotificationBEL(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;build finished\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "build finished", msgs[0].Payload)
	assert.Equal(t, "c1", msgs[0].ChannelID)
	assert.True(t, msgs[0].Terminal)
	assert.Equal(t, 0, s.Len())
}

func TestScanSingleNotificationST(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;done\x1b\\"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "done", msgs[0].Payload)
}

func TestScanByteAtATime(t *testing.T) {
	for name, terminator := range map[string]string{"bel": TerminatorBEL, "st": TerminatorST} {
		t.Run(name, func(t *testing.T) {
			s := New("c1", Limits{})
			input := Prefix + "agent turn complete" + terminator

			var msgs []Message
			for i := 0; i < len(input); i++ {
				msgs = append(msgs, s.Scan([]byte{input[i]})...)
			}

			require.Len(t, msgs, 1)
			assert.Equal(t, "agent turn complete", msgs[0].Payload)
		})
	}
}

func TestScanArbitrarySplits(t *testing.T) {
	input := "noise\x1b]9;first\x07more noise\x1b]9;second\x1b\\tail"
	for split := 1; split < len(input); split++ {
		s := New("c1", Limits{})
		var msgs []Message
		msgs = append(msgs, s.Scan([]byte(input[:split]))...)
		msgs = append(msgs, s.Scan([]byte(input[split:]))...)

		require.Len(t, msgs, 2, "split at %d", split)
		assert.Equal(t, "first", msgs[0].Payload)
		assert.Equal(t, "second", msgs[1].Payload)
	}
}

func TestScanMultipleInOneChunk(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;a\x07\x1b]9;b\x07\x1b]9;c\x1b\\"))
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].Payload)
	assert.Equal(t, "b", msgs[1].Payload)
	assert.Equal(t, "c", msgs[2].Payload)
}

func TestScanDropsLeadingGarbage(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("plain build output\r\n\x1b]9;done\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "done", msgs[0].Payload)
}

func TestScanIncompleteRetained(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;partial payload"))
	assert.Empty(t, msgs)
	assert.True(t, s.HasPartial())
	assert.Equal(t, len("\x1b]9;partial payload"), s.Len())

	msgs = s.Scan([]byte(" end\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "partial payload end", msgs[0].Payload)
}

func TestScanNearestTerminatorWins(t *testing.T) {
	// ST before BEL: ST closes the payload, BEL starts the next scan window.
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;one\x1b\\\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Payload)

	// BEL before ST.
	s = New("c1", Limits{})
	msgs = s.Scan([]byte("\x1b]9;two\x07\x1b\\"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].Payload)
}

func TestScanLoneEscapeInsidePayload(t *testing.T) {
	// A bare ESC that is not part of ST must not close the payload.
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;with \x1b[1m style\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "with \x1b[1m style", msgs[0].Payload)
}

func TestScanUTF8Payload(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;tâche terminée ✓\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "tâche terminée ✓", msgs[0].Payload)
}

func TestBoundTrimKeepsLastPrefix(t *testing.T) {
	limits := Limits{SoftMaxBytes: 64, HardMaxBytes: 128, TailWindowBytes: 16}
	s := New("c1", limits)

	// Unterminated opener followed by enough garbage to blow the hard max.
	s.Scan([]byte("junk before "))
	s.Scan([]byte(Prefix + "stuck payload "))
	s.Scan(bytes.Repeat([]byte("x"), 200))

	assert.True(t, bytes.Contains(s.buf, []byte(Prefix)),
		"post-trim buffer must still contain the prefix")
	assert.True(t, bytes.HasPrefix(s.buf, []byte(Prefix)),
		"trim keeps from the last prefix occurrence")
}

func TestBoundTrimPreservesPartialPrefix(t *testing.T) {
	limits := Limits{SoftMaxBytes: 64, HardMaxBytes: 128, TailWindowBytes: 16}
	s := New("c1", limits)

	// No full prefix anywhere, but the tail is a split opener: ESC ] 9
	// with the trailing ';' expected in the next chunk.
	chunk := append(bytes.Repeat([]byte("y"), 200), []byte("\x1b]9")...)
	s.Scan(chunk)

	assert.True(t, bytes.HasSuffix(s.buf, []byte("\x1b]9")))
	assert.LessOrEqual(t, s.Len(), len(Prefix)-1)

	// The straddled opener must still complete.
	msgs := s.Scan([]byte(";recovered\x07"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "recovered", msgs[0].Payload)
}

func TestBoundTrimTailWindow(t *testing.T) {
	limits := Limits{SoftMaxBytes: 64, HardMaxBytes: 128, TailWindowBytes: 16}
	s := New("c1", limits)

	s.Scan(bytes.Repeat([]byte("z"), 300))

	assert.Equal(t, limits.TailWindowBytes, s.Len())
}

func TestResetDiscardsBuffer(t *testing.T) {
	s := New("c1", Limits{})
	s.Scan([]byte("\x1b]9;half"))
	require.True(t, s.HasPartial())

	s.Reset()
	assert.False(t, s.HasPartial())
	assert.Equal(t, 0, s.Len())

	// A terminator arriving after reset must not produce a message.
	msgs := s.Scan([]byte("done\x07"))
	assert.Empty(t, msgs)
}

func TestClassifyNonTerminalPrompts(t *testing.T) {
	nonTerminal := []string{
		"Claude needs your permission to use Bash",
		"Agent is requesting approval for a command",
		"The agent wants to edit main.go",
		"APPROVAL REQUIRED: rm -rf build/",
	}
	for _, p := range nonTerminal {
		assert.False(t, Classify(p), "payload %q should be non-terminal", p)
	}

	terminal := []string{
		"Agent turn complete",
		"Task finished: all tests pass",
		"",
		strings.Repeat("long payload ", 50),
	}
	for _, p := range terminal {
		assert.True(t, Classify(p), "payload %q should be terminal", p)
	}
}

func TestScanClassifiesMessages(t *testing.T) {
	s := New("c1", Limits{})
	msgs := s.Scan([]byte("\x1b]9;Claude needs your permission to use Bash\x07\x1b]9;turn complete\x07"))
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Terminal)
	assert.True(t, msgs[1].Terminal)
}
