package types

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionTag is a major.minor.patch semantic version assigned per model name.
type VersionTag struct {
	Major uint64 `json:"major"`
	Minor uint64 `json:"minor"`
	Patch uint64 `json:"patch"`
}

var InitialVersion = VersionTag{Major: 1}

func (v VersionTag) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare orders by (major, minor, patch) numerically.
func (v VersionTag) Compare(o VersionTag) int {
	switch {
	case v.Major != o.Major:
		return cmpUint(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpUint(v.Minor, o.Minor)
	default:
		return cmpUint(v.Patch, o.Patch)
	}
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func (v VersionTag) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *VersionTag) UnmarshalText(text []byte) error {
	parsed, err := ParseVersionTag(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVersionTag accepts "1.2.3" and "v1.2.3".
func ParseVersionTag(raw string) (VersionTag, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return VersionTag{}, fmt.Errorf("version %q: expected major.minor.patch", raw)
	}
	var nums [3]uint64
	for i, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return VersionTag{}, fmt.Errorf("version %q: invalid component %q", raw, p)
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return VersionTag{}, fmt.Errorf("version %q: invalid component %q", raw, p)
		}
		nums[i] = n
	}
	return VersionTag{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}
