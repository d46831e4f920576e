package elections

import "fmt"

// Version components for the elections package
const (
	VersionMajor = 0
	VersionMinor = 3
	VersionPatch = 0
)

// PackageVersion of the current elections implementation
var PackageVersion = Version()

// Version returns the semantic version of the package.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
