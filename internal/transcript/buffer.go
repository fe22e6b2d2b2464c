// Package transcript accumulates the recognized text of one utterance.
package transcript

import "strings"

// Buffer holds the interim and finalized text of the current utterance.
// Final text is append-only until Reset; interim text is replaced by every
// fragment batch. The zero value is an empty buffer.
type Buffer struct {
	interim string
	final   string
}

// Reset clears both fields at the start of an utterance.
func (b *Buffer) Reset() {
	b.interim = ""
	b.final = ""
}

// Apply records one fragment batch: interim replaces the previous interim
// text, final is appended to the finalized text.
func (b *Buffer) Apply(interim, final string) {
	b.interim = interim
	b.final += final
}

func (b *Buffer) Interim() string { return b.interim }

func (b *Buffer) Final() string { return b.final }

// Display is the text shown to the user while speaking: finalized text
// followed by the live interim text.
func (b *Buffer) Display() string {
	return strings.TrimSpace(strings.TrimSpace(b.final) + " " + strings.TrimSpace(b.interim))
}

// Snapshot returns the text to submit: the trimmed final text, or the
// trimmed interim text when nothing was finalized (the recognizer ended
// before committing). An empty result means there is nothing to send.
func (b *Buffer) Snapshot() string {
	if s := strings.TrimSpace(b.final); s != "" {
		return s
	}
	return strings.TrimSpace(b.interim)
}
