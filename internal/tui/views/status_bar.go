package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the session, connection state and transient notices.
type StatusBar struct {
	*tview.TextView
	session   string
	connected bool
	streaming bool
	hints     string
	flash     string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetConnected updates the connection indicator.
func (sb *StatusBar) SetConnected(connected bool) {
	sb.connected = connected
	sb.render()
}

// SetStreaming shows that the open conversation has a live placeholder.
func (sb *StatusBar) SetStreaming(streaming bool) {
	sb.streaming = streaming
	sb.render()
}

// SetHints sets the key hints of the current page.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	conn := "[red]offline[-]"
	if sb.connected {
		conn = "[green]online[-]"
	}
	if sb.streaming {
		conn += " [yellow]~[-]"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.session, conn, clock)
	if sb.hints != "" {
		line += " | [::d]" + sb.hints + "[-:-:-]"
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
