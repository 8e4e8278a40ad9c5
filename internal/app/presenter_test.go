package app_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/status"
	"github.com/MrWong99/parley/internal/transcript"
)

func TestPresenter_Turn(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		turn transcript.Turn
		want string
	}{
		{
			name: "partial turns stay off the console",
			turn: transcript.Turn{Author: transcript.AuthorBot, Text: "Hel"},
			want: "",
		},
		{
			name: "final user turn",
			turn: transcript.Turn{Author: transcript.AuthorUser, Text: "What's open now?", Final: true},
			want: "user: What's open now?\n",
		},
		{
			name: "empty final turn",
			turn: transcript.Turn{Author: transcript.AuthorBot, Text: "  ", Final: true},
			want: "",
		},
		{
			name: "bot turn with citations",
			turn: transcript.Turn{
				Author: transcript.AuthorBot,
				Text:   "Try Cafe Luna.",
				Final:  true,
				Sources: []transcript.GroundingSource{
					{Title: "Cafe Luna", URI: "https://luna.example"},
					{Title: "", URI: "https://maps.example/p/1"},
					{Title: "Cached", URI: "not-a-link"},
				},
			},
			want: "bot: Try Cafe Luna.\n" +
				"     [1] Cafe Luna <https://luna.example>\n" +
				"     [2] source <https://maps.example/p/1>\n" +
				"     [3] Cached\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			app.NewPresenter(&buf).Turn(tc.turn)
			if got := buf.String(); got != tc.want {
				t.Errorf("output:\n%q\nwant:\n%q", got, tc.want)
			}
		})
	}
}

func TestPresenter_StatusAndCue(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := app.NewPresenter(&buf)

	p.Status(status.Listening, "")
	p.Thinking()
	p.Status(status.Error, "No API key configured.")

	want := "· listening\n… thinking\n! error: No API key configured.\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestHighlight(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"", ""},
		{"Opens at 9, closes at 17.", "Opens at 9, closes at 17."},
		{"Mail https://a.example or call 030 1234567", "Mail <https://a.example> or call [tel:030 1234567]"},
		{"See https://a.example/x.", "See <https://a.example/x>."},
		{"Call 030 1234567 today", "Call [tel:030 1234567] today"},
	}
	for _, tc := range tests {
		if got := app.Highlight(tc.in); got != tc.want {
			t.Errorf("Highlight(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
