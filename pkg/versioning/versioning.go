package versioning

import (
	stderrors "errors"
	"math"

	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/types"
)

var ErrVersionsExhausted = stderrors.New("no version above the latest is representable")

// Resolve returns the next version for name: 1.0.0 for a new model, otherwise the
// highest existing version with minor incremented and patch reset.
func Resolve(name string, existing []types.VersionTag) (types.VersionTag, error) {
	latest, ok := Latest(existing)
	if !ok {
		return types.InitialVersion, nil
	}
	if latest.Minor < math.MaxUint64 {
		return types.VersionTag{Major: latest.Major, Minor: latest.Minor + 1}, nil
	}
	if latest.Major < math.MaxUint64 {
		return types.VersionTag{Major: latest.Major + 1}, nil
	}
	return types.VersionTag{}, &errors.VersionError{Name: name, Raw: latest.String(), Err: ErrVersionsExhausted}
}

func Latest(existing []types.VersionTag) (types.VersionTag, bool) {
	if len(existing) == 0 {
		return types.VersionTag{}, false
	}
	latest := existing[0]
	for _, v := range existing[1:] {
		if v.Compare(latest) > 0 {
			latest = v
		}
	}
	return latest, true
}

// ParseLedger converts raw ledger entries for name. Any malformed entry makes the
// whole ledger unusable.
func ParseLedger(name string, raw []string) ([]types.VersionTag, error) {
	tags := make([]types.VersionTag, 0, len(raw))
	for _, entry := range raw {
		tag, err := types.ParseVersionTag(entry)
		if err != nil {
			return nil, &errors.VersionError{Name: name, Raw: entry, Err: err}
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
