package session

import "github.com/matheus3301/chatline/internal/config"

const DefaultSessionName = "main"

// Resolve picks the session to open: the --session flag, then the config's
// default_session, then "main". cfg may be nil.
func Resolve(flagOverride string, cfg *config.Config) string {
	switch {
	case flagOverride != "":
		return flagOverride
	case cfg != nil && cfg.DefaultSession != "":
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
