package build

import (
	"strconv"
	"time"
)

// These are set at build time through -ldflags, e.g.
// -X go.sia.tech/ephemerald/build.version=v0.1.0
var (
	version   = "?"
	commit    = "?"
	buildTime = "0"
)

// Version returns the version of the build.
func Version() string { return version }

// Commit returns the commit the binary was built from.
func Commit() string { return commit }

// BuildTime returns the time the binary was built at.
func BuildTime() time.Time {
	t, err := strconv.ParseInt(buildTime, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(t, 0)
}
