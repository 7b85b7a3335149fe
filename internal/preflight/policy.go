package preflight

import "fmt"

// Policy selects how aggressively preflight treats stray server
// processes and stale lock files.
type Policy int

const (
	// PolicyOff disables preflight entirely.
	PolicyOff Policy = iota
	// PolicyWarn reports strays and locks but changes nothing.
	PolicyWarn
	// PolicySafe terminates stale processes and leaves fresh ones and
	// lock files alone. The default.
	PolicySafe
	// PolicyKillClean terminates stale processes and removes stale
	// lock files.
	PolicyKillClean
	// PolicyAggressive terminates every enumerated process owned by
	// the current user, fresh or stale, and removes stale lock files.
	PolicyAggressive
	// PolicyFail aborts the run if any stray process or stale lock
	// file exists.
	PolicyFail
)

// String returns the policy's config-file spelling.
func (p Policy) String() string {
	switch p {
	case PolicyOff:
		return "off"
	case PolicyWarn:
		return "warn"
	case PolicySafe:
		return "safe"
	case PolicyKillClean:
		return "kill+clean"
	case PolicyAggressive:
		return "aggressive"
	case PolicyFail:
		return "fail"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePolicy converts a config-file spelling into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "off":
		return PolicyOff, nil
	case "warn":
		return PolicyWarn, nil
	case "safe", "":
		return PolicySafe, nil
	case "kill+clean", "kill-clean":
		return PolicyKillClean, nil
	case "aggressive":
		return PolicyAggressive, nil
	case "fail":
		return PolicyFail, nil
	default:
		return PolicySafe, fmt.Errorf("unknown preflight policy %q", s)
	}
}
