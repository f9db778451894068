package persistence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SaveRule triggers a snapshot when at least Changes writes happened within Interval
type SaveRule struct {
	Interval time.Duration
	Changes  int64
}

// ParseSaveRules parses "<seconds> <changes> [<seconds> <changes> ...]". An empty string disables rules
func ParseSaveRules(s string) ([]SaveRule, error) {
	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("save rules %q: expected pairs of <seconds> <changes>", s)
	}

	rules := make([]SaveRule, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		seconds, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("save rules %q: invalid seconds %q", s, fields[i])
		}
		changes, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil || changes <= 0 {
			return nil, fmt.Errorf("save rules %q: invalid changes %q", s, fields[i+1])
		}
		rules = append(rules, SaveRule{Interval: time.Duration(seconds) * time.Second, Changes: changes})
	}

	return rules, nil
}

// Due reports whether any rule is satisfied
func Due(rules []SaveRule, dirty int64, sinceLastSave time.Duration) bool {
	for _, r := range rules {
		if dirty >= r.Changes && sinceLastSave >= r.Interval {
			return true
		}
	}
	return false
}
