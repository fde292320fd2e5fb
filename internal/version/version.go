// Package version carries build information stamped via ldflags:
//
//	-X github.com/s3db-io/s3db/internal/version.Version=v1.2.3
//	-X github.com/s3db-io/s3db/internal/version.Commit=abc1234
//	-X github.com/s3db-io/s3db/internal/version.Date=2026-01-02
package version

var (
	// Version is the semantic release version.
	Version = "dev"

	// Commit is the short git hash of the build.
	Commit = "none"

	// Date is the build date.
	Date = "unknown"
)
