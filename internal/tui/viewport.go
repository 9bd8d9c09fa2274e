package tui

import (
	"charm.land/bubbles/v2/viewport"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// viewportAdapter exposes a bubbles viewport to the scroll anchor. Extent
// and offset are in rendered lines.
type viewportAdapter struct {
	vp *viewport.Model
}

var _ transcript.Viewport = viewportAdapter{}

func (a viewportAdapter) ContentExtent() int { return a.vp.TotalLineCount() }
func (a viewportAdapter) ScrollOffset() int { return a.vp.YOffset() }
func (a viewportAdapter) SetScrollOffset(n int) { a.vp.SetYOffset(n) }
func (a viewportAdapter) ScrollToEnd() { a.vp.GotoBottom() }
