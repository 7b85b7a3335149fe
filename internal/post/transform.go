package post

import "bytes"

// Chain combines the rule set and hook into the transform function the
// worker pool applies. Either part may be nil. The change count is the
// number of regex substitutions, plus one when the hook altered the
// text.
func Chain(rules *RuleSet, hook *Hook) func(path string, text []byte) ([]byte, int, error) {
	return func(path string, text []byte) ([]byte, int, error) {
		out, n := rules.Apply(path, text)
		if hook != nil {
			hooked, err := hook.Apply(path, out)
			if err != nil {
				return nil, 0, err
			}
			if !bytes.Equal(hooked, out) {
				n++
			}
			out = hooked
		}
		return out, n, nil
	}
}
