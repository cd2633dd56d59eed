package state

import "fmt"

// Version information for the state module.
const (
	// Version is the current version of the state module. It is stored in
	// every record this package writes.
	Version = "2.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "2.0.0"
)

// checkRecordVersion accepts records written by a version in
// [MinCompatibleVersion, next major of Version).
func checkRecordVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: record has no version", ErrIncompatibleRecord)
	}
	if !isVersionCompatible(v, MinCompatibleVersion) || majorOf(v) > majorOf(Version) {
		return fmt.Errorf("%w: record version %s, supported %s up to major %d",
			ErrIncompatibleRecord, v, MinCompatibleVersion, majorOf(Version))
	}
	return nil
}

// isVersionCompatible checks if version >= minVersion using semantic versioning.
// Assumes versions are in format "major.minor.patch".
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}

func majorOf(version string) int {
	var major int
	_, _ = fmt.Sscanf(version, "%d", &major)
	return major
}
