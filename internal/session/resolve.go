package session

import "github.com/chatbyx/chatsync/internal/config"

// DefaultSessionName is used when neither the --session flag nor the
// config file names one.
const DefaultSessionName = "main"

// Resolve picks the active session: the flag override wins, then
// default_session from config.toml, then "main". A broken config file is
// treated the same as an absent one.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
