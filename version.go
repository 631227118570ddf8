package gmlindex

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CacheFormat is the version of the on-disk cache layout. Caches written by
// an older minor or patch release of the same major version are read;
// anything else is discarded and rebuilt.
const CacheFormat = "1.0.0"

var cacheFormat = semver.MustParse(CacheFormat)

// cacheCompatible reports whether a cache written with format version v can
// be restored.
func cacheCompatible(v string) bool {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0, <= %s", cacheFormat.Major(), cacheFormat))
	if err != nil {
		return false
	}
	return c.Check(sv)
}
