package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatline/internal/store"
	"github.com/rivo/tview"
)

// ChatList is the archived chat table.
type ChatList struct {
	*tview.Table
	chats []store.Chat
}

// NewChatList creates a new chat list table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Chats ")

	return &ChatList{Table: table}
}

// Update refreshes the chat list, keeping the selection on the same chat
// when it is still listed.
func (cl *ChatList) Update(chats []store.Chat) {
	selected, _ := cl.SelectedChat()
	cl.chats = chats
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, chat := range chats {
		row := i + 1
		name := sanitizeForTerminal(chat.Name)
		if name == "" {
			name = chat.JID
		}
		if chat.IsGroup {
			name = "# " + name
		}
		if chat.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, chat.UnreadCount)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(name)).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(singleLine(chat.LastMessagePreview))).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(chat.LastMessageAt)).SetMaxWidth(12))
		if chat.JID == selected.JID {
			cl.Select(row, 0)
		}
	}
}

// SelectedChat returns the currently selected chat.
func (cl *ChatList) SelectedChat() (store.Chat, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.chats) {
		return cl.chats[idx], true
	}
	return store.Chat{}, false
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
