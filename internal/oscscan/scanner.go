package oscscan

import (
	"bytes"
	"log/slog"

	"github.com/termpulse/termpulse/internal/logging"
)

var scanLog = logging.ForComponent(logging.CompScan)

// Wire protocol constants. These must match the agent-side hook scripts
// exactly: a notification is emitted as OSC 9 (ESC ] 9 ; payload) closed by
// either BEL or ST. Interoperability breaks if any of these drift.
const (
	// Prefix opens an OSC 9 notification sequence.
	Prefix = "\x1b]9;"

	// TerminatorBEL is the single-byte terminator.
	TerminatorBEL = "\x07"

	// TerminatorST is the two-byte string terminator (ESC \).
	TerminatorST = "\x1b\\"
)

var (
	prefixBytes = []byte(Prefix)
	stBytes     = []byte(TerminatorST)
)

// Limits bound the per-channel scan buffer. The same constants drive both the
// scan loop and the trimming helper.
type Limits struct {
	// SoftMaxBytes is the warn threshold. Crossing it logs a diagnostic
	// before any data is actually lost.
	SoftMaxBytes int

	// HardMaxBytes triggers trimming once exceeded.
	HardMaxBytes int

	// TailWindowBytes is how much of the buffer tail survives a lossy trim.
	TailWindowBytes int
}

// DefaultLimits returns the built-in buffer bounds.
func DefaultLimits() Limits {
	return Limits{
		SoftMaxBytes:    32 * 1024,
		HardMaxBytes:    64 * 1024,
		TailWindowBytes: 256,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.SoftMaxBytes <= 0 {
		l.SoftMaxBytes = d.SoftMaxBytes
	}
	if l.HardMaxBytes <= 0 {
		l.HardMaxBytes = d.HardMaxBytes
	}
	if l.TailWindowBytes <= 0 {
		l.TailWindowBytes = d.TailWindowBytes
	}
	return l
}

// TrimReason describes which rule a buffer trim applied.
type TrimReason string

const (
	// TrimFromPrefix kept everything from the last prefix occurrence.
	TrimFromPrefix TrimReason = "from-prefix"

	// TrimPartialPrefix kept a buffer tail that is a proper prefix of the
	// opener, in case the opener straddles the trim point.
	TrimPartialPrefix TrimReason = "partial-prefix"

	// TrimTail kept only the last TailWindowBytes. Lossy: a notification
	// attempt entirely inside the discarded region is gone.
	TrimTail TrimReason = "tail"
)

// Message is one extracted notification payload.
type Message struct {
	ChannelID string
	Payload   string

	// Terminal is false for known in-progress prompts (approval requests,
	// edit requests) that must never escalate as a turn completion.
	Terminal bool
}

// Scanner extracts OSC 9 notifications from one channel's output stream.
// Chunks may be fragmented at arbitrary byte boundaries, including inside the
// prefix or terminator. Not safe for concurrent use; each channel's chunks
// must be fed in arrival order from a single goroutine.
type Scanner struct {
	channelID  string
	limits     Limits
	buf        []byte
	softWarned bool
}

// New creates a scanner for the given channel.
func New(channelID string, limits Limits) *Scanner {
	return &Scanner{
		channelID: channelID,
		limits:    limits.withDefaults(),
	}
}

// Scan appends a chunk and returns every complete notification it closes.
// A single chunk may yield zero, one, or many messages.
func (s *Scanner) Scan(chunk []byte) []Message {
	s.buf = append(s.buf, chunk...)

	var msgs []Message
	for {
		start := bytes.Index(s.buf, prefixBytes)
		if start < 0 {
			// No opener yet; keep accumulating. The prefix may be
			// split across this chunk and the next.
			break
		}
		if start > 0 {
			// Bytes before the opener belong to no notification.
			// Only the scan buffer drops them; the render stream is
			// untouched by this package.
			s.buf = s.dropHead(start)
		}

		body := s.buf[len(prefixBytes):]
		end, termLen := nearestTerminator(body)
		if end < 0 {
			// Sequence incomplete; retain verbatim and wait.
			break
		}

		payload := string(body[:end])
		msgs = append(msgs, Message{
			ChannelID: s.channelID,
			Payload:   payload,
			Terminal:  Classify(payload),
		})
		s.buf = s.dropHead(len(prefixBytes) + end + termLen)
	}

	s.bound()

	logging.Aggregate(logging.CompScan, "chunk_scanned",
		slog.String("channel", s.channelID))
	if len(msgs) > 0 {
		scanLog.Debug("notifications_extracted",
			slog.String("channel", s.channelID),
			slog.Int("count", len(msgs)))
	}
	return msgs
}

// HasPartial reports whether the buffer holds an in-progress notification:
// a full prefix awaiting its terminator, or a tail that could still become
// the prefix. Used to flag possibly-lost notifications when a channel is
// rebound and its buffer discarded.
func (s *Scanner) HasPartial() bool {
	if bytes.Contains(s.buf, prefixBytes) {
		return true
	}
	return partialPrefixLen(s.buf) > 0
}

// Len returns the current buffer length.
func (s *Scanner) Len() int {
	return len(s.buf)
}

// Reset discards all buffered bytes.
func (s *Scanner) Reset() {
	s.buf = nil
	s.softWarned = false
}

// dropHead removes the first n bytes, reallocating so the discarded head does
// not keep the old backing array alive.
func (s *Scanner) dropHead(n int) []byte {
	rest := make([]byte, len(s.buf)-n)
	copy(rest, s.buf[n:])
	return rest
}

// bound enforces the buffer limits after each scan pass.
func (s *Scanner) bound() {
	n := len(s.buf)

	if n <= s.limits.HardMaxBytes {
		if n > s.limits.SoftMaxBytes && !s.softWarned {
			s.softWarned = true
			scanLog.Warn("scan_buffer_soft_limit",
				slog.String("channel", s.channelID),
				slog.Int("size", n),
				slog.Int("soft_max", s.limits.SoftMaxBytes))
		}
		return
	}

	var reason TrimReason
	switch {
	case bytes.Contains(s.buf, prefixBytes):
		// Keep from the last opener: the most recent notification
		// attempt may still complete.
		i := bytes.LastIndex(s.buf, prefixBytes)
		s.buf = s.dropHead(i)
		reason = TrimFromPrefix
	default:
		if k := partialPrefixLen(s.buf); k > 0 {
			s.buf = s.dropHead(n - k)
			reason = TrimPartialPrefix
		} else {
			s.buf = s.dropHead(n - s.limits.TailWindowBytes)
			reason = TrimTail
		}
	}

	s.softWarned = false
	scanLog.Warn("scan_buffer_trimmed",
		slog.String("channel", s.channelID),
		slog.String("reason", string(reason)),
		slog.Int("before", n),
		slog.Int("after", len(s.buf)))
}

// nearestTerminator finds the closing terminator in body, checking both BEL
// and ST and picking whichever occurs at the lower offset. Agent hook scripts
// emit either; precedence is strictly positional.
func nearestTerminator(body []byte) (idx, length int) {
	bel := bytes.IndexByte(body, TerminatorBEL[0])
	st := bytes.Index(body, stBytes)

	switch {
	case bel < 0 && st < 0:
		return -1, 0
	case st < 0, bel >= 0 && bel < st:
		return bel, 1
	default:
		return st, len(stBytes)
	}
}

// partialPrefixLen returns the length of the longest non-empty proper prefix
// of the opener that the buffer ends with, or 0.
func partialPrefixLen(buf []byte) int {
	for k := len(prefixBytes) - 1; k >= 1; k-- {
		if len(buf) >= k && bytes.HasSuffix(buf, prefixBytes[:k]) {
			return k
		}
	}
	return 0
}
