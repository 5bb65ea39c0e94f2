package utils

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
)

// SortVersions sorts the given version strings in semantic versioning order (latest version first)
func SortVersions(versions []string) []string {
	semverVersions := make([]*semver.Version, 0, len(versions))

	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			log.Warn().Str("version", v).Err(err).Msg("invalid semver version")
			continue
		}
		semverVersions = append(semverVersions, sv)
	}

	sort.Slice(semverVersions, func(i, j int) bool {
		return semverVersions[i].GreaterThan(semverVersions[j])
	})

	result := make([]string, len(semverVersions))
	for i, v := range semverVersions {
		result[i] = v.Original()
	}

	return result
}

// MatchVersion returns the entry of supported that is the same version as requested.
// Only full major.minor.patch versions are accepted from clients.
func MatchVersion(requested string, supported []string) (string, bool) {
	want, err := semver.StrictNewVersion(requested)
	if err != nil {
		return "", false
	}

	for _, s := range supported {
		sv, err := semver.NewVersion(s)
		if err != nil {
			continue
		}
		if sv.Equal(want) {
			return s, true
		}
	}

	return "", false
}

// CompareVersions compares two semantic versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2; unparsable versions compare as equal
func CompareVersions(v1, v2 string) int {
	sv1, err1 := semver.NewVersion(v1)
	sv2, err2 := semver.NewVersion(v2)
	if err1 != nil || err2 != nil {
		return 0
	}
	return sv1.Compare(sv2)
}
