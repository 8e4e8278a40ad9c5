package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/parley/internal/status"
	"github.com/MrWong99/parley/internal/textspan"
	"github.com/MrWong99/parley/internal/transcript"
)

// Presenter renders transcript turns and status changes as console lines.
// Partial turns only go to the debug log; the console shows each utterance
// once, when it is final.
type Presenter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPresenter returns a Presenter writing to w.
func NewPresenter(w io.Writer) *Presenter {
	return &Presenter{w: w}
}

// Turn prints a final turn with its citations.
func (p *Presenter) Turn(t transcript.Turn) {
	if !t.Final {
		slog.Debug("partial turn", "author", t.Author, "text", t.Text)
		return
	}
	if strings.TrimSpace(t.Text) == "" && len(t.Sources) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %s\n", string(t.Author)+":", Highlight(t.Text))
	for i, src := range t.Sources {
		title := src.Title
		if title == "" {
			title = "source"
		}
		if transcript.Resolved(src.URI) {
			fmt.Fprintf(&b, "     [%d] %s <%s>\n", i+1, title, src.URI)
		} else {
			fmt.Fprintf(&b, "     [%d] %s\n", i+1, title)
		}
	}
	p.write(b.String())
}

// Status prints a status change.
func (p *Presenter) Status(s status.Status, msg string) {
	if s == status.Error {
		p.write(fmt.Sprintf("! error: %s\n", msg))
		return
	}
	p.write(fmt.Sprintf("· %s\n", s))
}

// Thinking prints the cue shown while the engine processes user speech.
func (p *Presenter) Thinking() {
	p.write("… thinking\n")
}

func (p *Presenter) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, s); err != nil {
		slog.Debug("presenter write failed", "err", err)
	}
}

// Highlight marks links as <link> and phone numbers as [tel:number].
func Highlight(text string) string {
	spans := textspan.Annotate(text)
	if !textspan.Has(spans, textspan.KindLink) && !textspan.Has(spans, textspan.KindPhone) {
		return text
	}
	var b strings.Builder
	for _, s := range spans {
		switch s.Kind {
		case textspan.KindLink:
			b.WriteString("<" + s.Text + ">")
		case textspan.KindPhone:
			b.WriteString("[tel:" + s.Text + "]")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
