package tui

import "time"

// flash holds one transient notice. UI goroutine only.
type flash struct {
	message string
	expires time.Time
}

func (f *flash) set(msg string, d time.Duration) {
	f.message = msg
	f.expires = time.Now().Add(d)
}

// get returns the current message, or empty once expired.
func (f *flash) get(now time.Time) string {
	if now.After(f.expires) {
		return ""
	}
	return f.message
}
