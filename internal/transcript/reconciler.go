// Package transcript turns the live engine's streaming partial transcripts
// into well-formed conversation turns.
//
// The two directions follow different protocols. Bot text arrives as
// incremental deltas that are appended to the current draft. User text
// arrives as a whole-utterance guess that replaces the current draft. Each
// update is emitted as a non-final snapshot; a turn-complete signal finalises
// both drafts, an interruption finalises only the bot draft.
package transcript

import (
	"net/url"
	"strings"
	"sync"
)

// Author identifies who spoke a turn.
type Author string

const (
	AuthorUser Author = "user"
	AuthorBot  Author = "bot"
)

// GroundingSource is a citation attached to a bot turn.
type GroundingSource struct {
	Title string
	URI   string
}

// Turn is a snapshot of one utterance. Final turns are never re-emitted.
type Turn struct {
	Author  Author
	Text    string
	Final   bool
	Sources []GroundingSource
}

// Resolved reports whether uri is an absolute http(s) link a user can follow.
func Resolved(uri string) bool {
	if uri == "" {
		return false
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Reconciler holds the per-author drafts of the current exchange. It is safe
// for concurrent use but the session drives it from a single goroutine.
type Reconciler struct {
	emit func(Turn)

	mu      sync.Mutex
	user    strings.Builder
	bot     strings.Builder
	sources []GroundingSource
	seen    map[string]struct{}
}

// NewReconciler creates a Reconciler that reports every snapshot to emit.
func NewReconciler(emit func(Turn)) *Reconciler {
	if emit == nil {
		emit = func(Turn) {}
	}
	return &Reconciler{emit: emit, seen: make(map[string]struct{})}
}

// AppendBot appends a bot delta and emits the draft.
func (r *Reconciler) AppendBot(delta string) {
	r.mu.Lock()
	r.bot.WriteString(delta)
	t := Turn{Author: AuthorBot, Text: r.bot.String(), Sources: r.sourcesLocked()}
	r.mu.Unlock()
	r.emit(t)
}

// ReplaceUser replaces the user draft with text and emits it.
func (r *Reconciler) ReplaceUser(text string) {
	r.mu.Lock()
	r.user.Reset()
	r.user.WriteString(text)
	t := Turn{Author: AuthorUser, Text: text}
	r.mu.Unlock()
	r.emit(t)
}

// AddGrounding accumulates sources for the current bot turn. Duplicate URIs
// are ignored; unresolved ones are kept out of every emitted turn.
func (r *Reconciler) AddGrounding(sources []GroundingSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sources {
		if !Resolved(s.URI) {
			continue
		}
		if _, dup := r.seen[s.URI]; dup {
			continue
		}
		r.seen[s.URI] = struct{}{}
		if s.Title == "" {
			s.Title = s.URI
		}
		r.sources = append(r.sources, s)
	}
}

// Complete finalises both drafts, user first, and clears them along with the
// grounding buffer. Empty drafts produce no turn.
func (r *Reconciler) Complete() {
	r.mu.Lock()
	var out []Turn
	if r.user.Len() > 0 {
		out = append(out, Turn{Author: AuthorUser, Text: r.user.String(), Final: true})
	}
	if r.bot.Len() > 0 {
		out = append(out, Turn{Author: AuthorBot, Text: r.bot.String(), Final: true, Sources: r.sourcesLocked()})
	}
	r.user.Reset()
	r.bot.Reset()
	r.clearSourcesLocked()
	r.mu.Unlock()

	for _, t := range out {
		r.emit(t)
	}
}

// Interrupt finalises the bot draft only. The user draft is left untouched.
// It reports whether a turn was emitted.
func (r *Reconciler) Interrupt() bool {
	r.mu.Lock()
	if r.bot.Len() == 0 {
		r.clearSourcesLocked()
		r.mu.Unlock()
		return false
	}
	t := Turn{Author: AuthorBot, Text: r.bot.String(), Final: true, Sources: r.sourcesLocked()}
	r.bot.Reset()
	r.clearSourcesLocked()
	r.mu.Unlock()
	r.emit(t)
	return true
}

// Reset discards both drafts without emitting anything.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user.Reset()
	r.bot.Reset()
	r.clearSourcesLocked()
}

// Drafts returns the current draft texts.
func (r *Reconciler) Drafts() (user, bot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user.String(), r.bot.String()
}

// sourcesLocked returns a copy of the accumulated sources, or nil.
func (r *Reconciler) sourcesLocked() []GroundingSource {
	if len(r.sources) == 0 {
		return nil
	}
	return append([]GroundingSource(nil), r.sources...)
}

func (r *Reconciler) clearSourcesLocked() {
	r.sources = nil
	clear(r.seen)
}
