package session

import (
	"fmt"
	"regexp"
)

// A session name becomes a directory under ~/.chatsync/sessions, so the
// character set stays restricted to what every filesystem tolerates.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

const maxNameLen = 64

// ValidateName rejects names that cannot serve as a session directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q: only lowercase letters, digits, - and _ are allowed", name)
	}
	return nil
}
