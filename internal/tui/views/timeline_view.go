package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/rivo/tview"
)

// Row is the rendered form of one timeline entry. It is built on the
// conversation loop and applied to the table on the UI goroutine.
type Row struct {
	Text       string
	Color      tcell.Color
	Selectable bool
}

// EntryRow renders e. progress is the upload percentage, or -1 when there is
// none.
func EntryRow(e *entry.Entry, progress int) Row {
	switch e.Kind {
	case entry.KindDate:
		return Row{Text: "[::d]── " + e.Text + " ──[-:-:-]", Color: tcell.ColorGray}
	case entry.KindTyping:
		return Row{Text: "[::i]" + tview.Escape(displaySender(e)) + " is typing...[-:-:-]", Color: tcell.ColorGray}
	case entry.KindSystem:
		return Row{Text: "[::i]" + tview.Escape(singleLine(e.Text)) + "[-:-:-]", Color: tcell.ColorGray, Selectable: !e.Placeholder}
	}

	var b strings.Builder
	b.WriteString("[::d]" + e.Timestamp.Local().Format("15:04") + "[-:-:-] ")
	if e.ShowAvatar {
		_, _ = fmt.Fprintf(&b, "[::b]%s[-:-:-] ", tview.Escape(displaySender(e)))
	} else {
		b.WriteString("│ ")
	}
	b.WriteString(tview.Escape(singleLine(e.Text)))
	if e.Edited {
		b.WriteString(" [::d](edited)[-:-:-]")
	}
	if e.Direction == entry.Outgoing {
		b.WriteString(" " + sendMarker(e, progress))
	}

	color := tview.Styles.PrimaryTextColor
	if e.Status == status.Failed {
		color = tcell.ColorRed
	}
	return Row{Text: b.String(), Color: color, Selectable: !e.Placeholder}
}

func displaySender(e *entry.Entry) string {
	if e.Direction == entry.Outgoing {
		return "You"
	}
	if e.SenderName != "" {
		return e.SenderName
	}
	if user, _, ok := strings.Cut(e.SenderID, "@"); ok {
		return user
	}
	return e.SenderID
}

func sendMarker(e *entry.Entry, progress int) string {
	switch e.Status {
	case status.Initial, status.SendingLocal:
		if progress >= 0 {
			return fmt.Sprintf("[yellow]%d%%[-]", progress)
		}
		return "[yellow]…[-]"
	case status.SendingConfirmed:
		return "[yellow]✓[-]"
	case status.Failed:
		return "[red]! failed, r to resend[-]"
	}
	rr := e.ReadReceipt
	switch {
	case rr == nil:
		return "[green]✓[-]"
	case rr.PeerRead:
		return "[blue]✓✓[-]"
	case rr.ReadCount > 0 && rr.UnreadCount > 0:
		return fmt.Sprintf("[green]✓✓ %d/%d[-]", rr.ReadCount, rr.ReadCount+rr.UnreadCount)
	case rr.ReadCount > 0:
		return "[blue]✓✓[-]"
	}
	return "[green]✓[-]"
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
}

// TimelineView shows a conversation, one table row per timeline entry, and
// the composer below it.
type TimelineView struct {
	*tview.Flex
	table    *tview.Table
	composer *tview.InputField
	onSend   func(text string)
	follow   bool
}

// NewTimelineView creates an empty timeline view.
func NewTimelineView() *TimelineView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Messages ")

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true).SetTitle(" Compose (i to focus) ")

	v := &TimelineView{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(table, 0, 1, true).
			AddItem(composer, 3, 0, false),
		table:    table,
		composer: composer,
		follow:   true,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && v.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				v.onSend(text)
				composer.SetText("")
			}
		}
	})
	table.SetSelectionChangedFunc(func(row, _ int) {
		v.follow = row >= table.GetRowCount()-1
	})
	return v
}

// SetChatName updates the title.
func (v *TimelineView) SetChatName(name string) {
	v.table.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// SetOnSend sets the callback when a message is submitted.
func (v *TimelineView) SetOnSend(fn func(text string)) {
	v.onSend = fn
}

// Table returns the entries table (for focus management).
func (v *TimelineView) Table() *tview.Table {
	return v.table
}

// Composer returns the composer input field (for focus management).
func (v *TimelineView) Composer() *tview.InputField {
	return v.composer
}

// Reset clears all rows.
func (v *TimelineView) Reset() {
	v.table.Clear()
	v.follow = true
}

// Insert adds a row at index i.
func (v *TimelineView) Insert(i int, r Row) {
	v.table.InsertRow(i)
	v.set(i, r)
}

// Remove deletes the row at index i.
func (v *TimelineView) Remove(i int) {
	if i < v.table.GetRowCount() {
		v.table.RemoveRow(i)
	}
}

// Update re-renders the row at index i.
func (v *TimelineView) Update(i int, r Row) {
	if i < v.table.GetRowCount() {
		v.set(i, r)
	}
}

// Shift moves the viewport and the selection down by rows so content
// inserted above stays in place.
func (v *TimelineView) Shift(rows int) {
	offset, col := v.table.GetOffset()
	v.table.SetOffset(offset+rows, col)
	if sel, _ := v.table.GetSelection(); sel >= 0 {
		v.table.Select(sel+rows, 0)
	}
}

// Settle scrolls to the newest row when the user was already there.
func (v *TimelineView) Settle() {
	if v.follow && v.table.GetRowCount() > 0 {
		v.table.Select(v.table.GetRowCount()-1, 0)
		v.table.ScrollToEnd()
	}
}

// Selected returns the selected row index, or -1.
func (v *TimelineView) Selected() int {
	row, _ := v.table.GetSelection()
	if row < 0 || row >= v.table.GetRowCount() {
		return -1
	}
	return row
}

// Visible returns the row indices currently on screen.
func (v *TimelineView) Visible() []int {
	offset, _ := v.table.GetOffset()
	_, _, _, height := v.table.GetInnerRect()
	var out []int
	for i := offset; i < offset+height && i < v.table.GetRowCount(); i++ {
		out = append(out, i)
	}
	return out
}

func (v *TimelineView) set(i int, r Row) {
	v.table.SetCell(i, 0, tview.NewTableCell(r.Text).
		SetTextColor(r.Color).
		SetSelectable(r.Selectable).
		SetExpansion(1))
}
