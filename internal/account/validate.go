package account

import (
	"fmt"
	"regexp"
)

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9@._-]{1,64}$`)

// ValidateID checks that an account identity conforms to the source
// application's naming rules.
func ValidateID(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid account id %q: must match %s", id, idRegexp)
	}
	return nil
}
