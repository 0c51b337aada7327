package accountdir

import (
	"fmt"
	"regexp"
)

// Account names are the E.164 number the account registered with.
var nameRegexp = regexp.MustCompile(`^\+[1-9][0-9]{5,14}$`)

// ValidateName checks that name is a plausible E.164 account number.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid account name %q: must be an E.164 number like +14155550101", name)
	}
	return nil
}
