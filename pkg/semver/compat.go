// Package semver checks protocol version compatibility between contexts.
package semver

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:compat"

// SupportedRange is the protocol range this build accepts.
const SupportedRange = "^1"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

var (
	constraintMu    sync.Mutex
	constraintCache = map[string]*masterminds.Constraints{}
)

// ParseConstraint parses a range, caching the result. A bare major ("1") is
// treated as "^1".
func ParseConstraint(rangeStr string) (*masterminds.Constraints, error) {
	rangeStr = strings.TrimSpace(rangeStr)
	if majorOnlyRegex.MatchString(rangeStr) {
		rangeStr = "^" + rangeStr
	}

	constraintMu.Lock()
	defer constraintMu.Unlock()
	if c, ok := constraintCache[rangeStr]; ok {
		return c, nil
	}
	c, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid range %q: %w", logPrefix, rangeStr, err)
	}
	constraintCache[rangeStr] = c
	return c, nil
}

// Compatible reports whether version satisfies rangeStr. An empty version is
// accepted: peers that predate versioned envelopes omit it.
func Compatible(version, rangeStr string) (bool, error) {
	if strings.TrimSpace(version) == "" {
		return true, nil
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	c, err := ParseConstraint(rangeStr)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// Supported reports whether version is accepted by this build.
func Supported(version string) bool {
	ok, err := Compatible(version, SupportedRange)
	return err == nil && ok
}
