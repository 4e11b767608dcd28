package policy

import (
	"fmt"
	"regexp"
)

// MaxIdentifierLength matches the PostgreSQL identifier limit.
const MaxIdentifierLength = 63

// validIdentifierRegex matches schema identifiers used in SET search_path and
// publication/subscription names. Anything else is rejected before it can
// reach an engine command.
var validIdentifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks a schema or publication identifier. The value is
// interpolated into engine commands that cannot be parameterised, so the
// character set is deliberately narrow.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier exceeds %d characters", MaxIdentifierLength)
	}
	if !validIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match ^[A-Za-z_][A-Za-z0-9_]*$", name)
	}
	return nil
}
