package conversation

import "strings"

// Speaker identifies the direction of a transcript line.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Entry is one finalized utterance.
type Entry struct {
	Speaker Speaker
	Text    string
}

// Aggregator folds partial transcript fragments into finalized entries and
// two in-progress live lines, one per speaker.
//
// The user line is finalized as soon as the model starts answering, so the
// user's words show up without waiting for the end of the turn. A user line
// holding only whitespace is left pending by a model fragment. A turn
// completion finalizes whatever is left, user first, and clears both lines;
// whitespace-only lines are dropped then instead of finalized.
//
// Aggregator is not safe for concurrent use; the Controller guards it.
type Aggregator struct {
	entries []Entry
	user    strings.Builder
	model   strings.Builder
}

// User appends a fragment of the user's speech.
func (a *Aggregator) User(fragment string) {
	a.user.WriteString(fragment)
}

// Model appends a fragment of the model's speech. Pending user text is
// finalized first.
func (a *Aggregator) Model(fragment string) {
	a.finalize(SpeakerUser, &a.user)
	a.model.WriteString(fragment)
}

// TurnComplete finalizes both lines, user before model, and clears them.
func (a *Aggregator) TurnComplete() {
	a.finalize(SpeakerUser, &a.user)
	a.finalize(SpeakerModel, &a.model)
	a.DiscardLines()
}

// finalize moves a non-blank line into the entries and resets it. A blank
// line is left untouched.
func (a *Aggregator) finalize(speaker Speaker, line *strings.Builder) {
	text := strings.TrimSpace(line.String())
	if text == "" {
		return
	}
	a.entries = append(a.entries, Entry{Speaker: speaker, Text: text})
	line.Reset()
}

// DiscardLines clears both live lines without finalizing them.
func (a *Aggregator) DiscardLines() {
	a.user.Reset()
	a.model.Reset()
}

// Reset drops all entries and live lines.
func (a *Aggregator) Reset() {
	a.entries = nil
	a.DiscardLines()
}

// Lines returns the current live lines.
func (a *Aggregator) Lines() (user, model string) {
	return a.user.String(), a.model.String()
}

// Entries returns a copy of the finalized entries in order.
func (a *Aggregator) Entries() []Entry {
	return append([]Entry(nil), a.entries...)
}
