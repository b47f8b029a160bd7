package tracker

import (
	"fmt"
	"strings"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/phase"
)

// DumpStack renders the phase stack top to bottom with pending capture
// counts per context, followed by the current cause.
func (t *Tracker) DumpStack() string {
	var b strings.Builder
	b.WriteString("phase stack (top first):\n")
	i := t.stack.Depth() - 1
	t.stack.Each(func(c *phase.Context) {
		counts := c.CaptureCounts()
		fmt.Fprintf(&b, "  [%d] %s %s captures:", i, c.Phase(), c.ID())
		for _, k := range capture.Kinds {
			fmt.Fprintf(&b, " %s=%d", k, counts[k])
		}
		fmt.Fprintf(&b, " tx=%d\n", c.Log().Len())
		i--
	})
	fmt.Fprintf(&b, "cause: %s\n", t.CurrentCause())
	return b.String()
}
