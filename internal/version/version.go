package version

import (
	"fmt"
	"runtime"
)

// Build and Commit are set at link time with
// -ldflags "-X github.com/effective-security/xgpg/internal/version.Build=..."
var (
	Build  = "v0.0.0"
	Commit = "dev"
)

// Info describes the binary version
type Info struct {
	Build   string `json:"build"`
	Commit  string `json:"commit"`
	Runtime string `json:"runtime"`
}

// Current returns the version of the running binary
func Current() Info {
	return Info{
		Build:   Build,
		Commit:  Commit,
		Runtime: runtime.Version(),
	}
}

func (v Info) String() string {
	return fmt.Sprintf("%s (%s, %s)", v.Build, v.Commit, v.Runtime)
}
