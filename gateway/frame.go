package gateway

import (
	"strings"
	"sync"

	"github.com/alovak/secureframe/internal/escape"
	"github.com/alovak/secureframe/internal/form"
	"github.com/alovak/secureframe/widget"
)

// frameHost stands in for the browser overlay: it remembers what the frame
// currently shows so GET /sessions/{id}/frame can serve it.
type frameHost struct {
	mu     sync.Mutex
	open   bool
	doc    *form.Document
	notice *widget.Notice
	// loads counts documents handed to the frame, replacements included.
	loads int
}

func (h *frameHost) Open(doc form.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = true
	h.doc = &doc
	h.notice = nil
	h.loads++
}

func (h *frameHost) Replace(doc form.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doc = &doc
	h.notice = nil
	h.loads++
}

func (h *frameHost) ShowError(n widget.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doc = nil
	h.notice = &n
}

func (h *frameHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
	h.doc = nil
	h.notice = nil
}

// current returns the page the frame shows, or false when the overlay is closed.
func (h *frameHost) current() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case !h.open:
		return "", false
	case h.notice != nil:
		return renderNotice(*h.notice), true
	case h.doc != nil:
		return h.doc.HTML, true
	}
	return "", false
}

func (h *frameHost) currentNotice() *widget.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notice == nil {
		return nil
	}
	n := *h.notice
	return &n
}

func renderNotice(n widget.Notice) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><body>\n")
	b.WriteString(`<div class="secureframe-error">`)
	b.WriteString(`<p class="secureframe-error-reason">` + escape.Attr(n.Reason) + `</p>`)
	b.WriteString(`<button type="button" data-action="retry">` + escape.Attr(n.RetryLabel) + `</button>`)
	b.WriteString(`<button type="button" data-action="close">` + escape.Attr(n.CloseLabel) + `</button>`)
	b.WriteString("</div>\n</body></html>\n")
	return b.String()
}
