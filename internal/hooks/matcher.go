package hooks

import (
	"regexp"
	"strings"
	"sync"
)

var patternCache sync.Map // pattern -> *regexp.Regexp or nil

// MatchPattern reports whether pattern selects value. Patterns are anchored
// regular expressions; a pattern that does not compile is compared
// literally.
func MatchPattern(pattern, value string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	if pattern == value {
		return true
	}
	cached, ok := patternCache.Load(pattern)
	if !ok {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			re = nil
		}
		cached, _ = patternCache.LoadOrStore(pattern, re)
	}
	re, _ := cached.(*regexp.Regexp)
	if re == nil {
		return false
	}
	return re.MatchString(value)
}

func (m Matcher) matches(in Input) bool {
	value, ok := in.Discriminator()
	if !ok {
		return true
	}
	return MatchPattern(m.Matcher, value)
}
