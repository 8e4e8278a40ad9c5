package transcript_test

import (
	"testing"

	"github.com/MrWong99/parley/internal/transcript"
)

// collector records every emitted turn.
type collector struct {
	turns []transcript.Turn
}

func (c *collector) emit(t transcript.Turn) { c.turns = append(c.turns, t) }

func (c *collector) texts() []string {
	out := make([]string, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.Text
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReconciler_BotDeltasAppend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		deltas []string
		want   []string
	}{
		{name: "single", deltas: []string{"Hello"}, want: []string{"Hello"}},
		{name: "greeting", deltas: []string{"H", "i", " there"}, want: []string{"H", "Hi", "Hi there"}},
		{name: "whitespace preserved", deltas: []string{"a ", " b"}, want: []string{"a ", "a  b"}},
		{name: "empty delta", deltas: []string{"x", ""}, want: []string{"x", "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var c collector
			r := transcript.NewReconciler(c.emit)
			for _, d := range tc.deltas {
				r.AppendBot(d)
			}
			if got := c.texts(); !equal(got, tc.want) {
				t.Errorf("emissions = %q, want %q", got, tc.want)
			}
			for _, turn := range c.turns {
				if turn.Final || turn.Author != transcript.AuthorBot {
					t.Errorf("turn = %+v; want non-final bot turn", turn)
				}
			}
		})
	}
}

func TestReconciler_UserPartialsReplace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		partials []string
		want     []string
	}{
		{name: "single", partials: []string{"hello"}, want: []string{"hello"}},
		{name: "growing guess", partials: []string{"what", "what's the", "what's the weather"}, want: []string{"what", "what's the", "what's the weather"}},
		{name: "corrected guess", partials: []string{"wreck a nice", "recognise speech"}, want: []string{"wreck a nice", "recognise speech"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var c collector
			r := transcript.NewReconciler(c.emit)
			for _, p := range tc.partials {
				r.ReplaceUser(p)
			}
			if got := c.texts(); !equal(got, tc.want) {
				t.Errorf("emissions = %q, want %q", got, tc.want)
			}
			user, _ := r.Drafts()
			if last := tc.partials[len(tc.partials)-1]; user != last {
				t.Errorf("user draft = %q, want latest partial %q", user, last)
			}
		})
	}
}

func TestReconciler_CompleteFinalisesBoth(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)

	r.ReplaceUser("hi")
	r.AppendBot("H")
	r.AppendBot("ello")
	c.turns = nil

	r.Complete()
	if len(c.turns) != 2 {
		t.Fatalf("final turns = %+v; want 2", c.turns)
	}
	if u := c.turns[0]; u.Author != transcript.AuthorUser || !u.Final || u.Text != "hi" {
		t.Errorf("first final = %+v; want user 'hi'", u)
	}
	if b := c.turns[1]; b.Author != transcript.AuthorBot || !b.Final || b.Text != "Hello" {
		t.Errorf("second final = %+v; want bot 'Hello'", b)
	}
	if user, bot := r.Drafts(); user != "" || bot != "" {
		t.Errorf("drafts after complete = %q / %q; want empty", user, bot)
	}
}

func TestReconciler_CompleteScenario(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)
	for _, d := range []string{"H", "i", " there"} {
		r.AppendBot(d)
	}
	r.Complete()

	want := []string{"H", "Hi", "Hi there", "Hi there"}
	if got := c.texts(); !equal(got, want) {
		t.Fatalf("emissions = %q, want %q", got, want)
	}
	finals := 0
	for _, turn := range c.turns {
		if turn.Final {
			finals++
		}
	}
	if finals != 1 || !c.turns[3].Final {
		t.Errorf("want exactly one final emission at the end, got %d", finals)
	}
	if _, bot := r.Drafts(); bot != "" {
		t.Errorf("bot draft = %q after complete", bot)
	}
}

func TestReconciler_CompleteWithEmptyDraftsEmitsNothing(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)
	r.Complete()
	r.AddGrounding([]transcript.GroundingSource{{Title: "x", URI: "https://x.example"}})
	r.Complete()
	if len(c.turns) != 0 {
		t.Errorf("emitted %+v; want nothing", c.turns)
	}
}

func TestReconciler_InterruptFinalisesBotOnly(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)
	r.ReplaceUser("stop")
	r.AppendBot("The weather today")
	r.AddGrounding([]transcript.GroundingSource{{Title: "Forecast", URI: "https://weather.example/today"}})
	c.turns = nil

	if !r.Interrupt() {
		t.Fatal("Interrupt should report an emitted turn")
	}
	if len(c.turns) != 1 {
		t.Fatalf("emitted %+v; want one bot turn", c.turns)
	}
	got := c.turns[0]
	if got.Author != transcript.AuthorBot || !got.Final || got.Text != "The weather today" {
		t.Errorf("turn = %+v", got)
	}
	if len(got.Sources) != 1 || got.Sources[0].URI != "https://weather.example/today" {
		t.Errorf("sources = %+v; grounding must be flushed with the bot turn", got.Sources)
	}
	if user, _ := r.Drafts(); user != "stop" {
		t.Errorf("user draft = %q; interrupt must leave it untouched", user)
	}

	if r.Interrupt() {
		t.Error("second Interrupt with empty bot draft should emit nothing")
	}
}

func TestReconciler_GroundingFiltering(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)

	r.AddGrounding([]transcript.GroundingSource{
		{Title: "A", URI: "https://a.example"},
		{Title: "missing"},
		{Title: "relative", URI: "/path/only"},
		{Title: "opaque", URI: "vertexaisearch:unresolved"},
		{Title: "A again", URI: "https://a.example"},
		{URI: "http://b.example/page"},
	})
	r.AppendBot("answer")

	got := c.turns[0].Sources
	want := []transcript.GroundingSource{
		{Title: "A", URI: "https://a.example"},
		{Title: "http://b.example/page", URI: "http://b.example/page"},
	}
	if len(got) != len(want) {
		t.Fatalf("sources = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("source %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReconciler_GroundingClearedAfterTurn(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)
	r.AddGrounding([]transcript.GroundingSource{{Title: "A", URI: "https://a.example"}})
	r.AppendBot("one")
	r.Complete()
	r.AppendBot("two")

	last := c.turns[len(c.turns)-1]
	if last.Text != "two" || len(last.Sources) != 0 {
		t.Errorf("next turn = %+v; sources must not leak across turns", last)
	}
}

func TestReconciler_EmittedSnapshotsAreIndependent(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)
	r.AddGrounding([]transcript.GroundingSource{{Title: "A", URI: "https://a.example"}})
	r.AppendBot("x")
	c.turns[0].Sources[0].Title = "mutated"
	r.AppendBot("y")
	if got := c.turns[1].Sources[0].Title; got != "A" {
		t.Errorf("source title = %q; snapshots must not alias internal state", got)
	}
}

func TestReconciler_Reset(t *testing.T) {
	t.Parallel()
	var c collector
	r := transcript.NewReconciler(c.emit)
	r.ReplaceUser("u")
	r.AppendBot("b")
	c.turns = nil
	r.Reset()
	r.Complete()
	if len(c.turns) != 0 {
		t.Errorf("emitted %+v after Reset; want nothing", c.turns)
	}
}

func TestResolved(t *testing.T) {
	t.Parallel()
	tests := []struct {
		uri  string
		want bool
	}{
		{"", false},
		{"https://example.com", true},
		{"http://example.com/a?b=c", true},
		{"ftp://example.com", false},
		{"example.com", false},
		{"https://", false},
		{"::not a url", false},
	}
	for _, tc := range tests {
		if got := transcript.Resolved(tc.uri); got != tc.want {
			t.Errorf("Resolved(%q) = %v, want %v", tc.uri, got, tc.want)
		}
	}
}
