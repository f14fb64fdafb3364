package redisd

import "fmt"

// wrongTypeError reports that cmd was applied to a key whose stored value
// is not of the kind cmd requires, per spec.md §7 "Type mismatch".
func wrongTypeError(cmd string, got typeName) error {
	return fmt.Errorf("WRONGTYPE Operation against a key holding the wrong kind of value (%s expected a different type than %s)", cmd, got)
}

// missingStreamError reports a key that XRANGE/XREAD require to already be
// a stream but that does not exist, per SPEC_FULL.md §5's decision to match
// original_source/app/storage/__init__.py's unconditional isinstance check.
func missingStreamError(cmd string) error {
	return fmt.Errorf("WRONGTYPE %s against a missing key requires an existing stream", cmd)
}
