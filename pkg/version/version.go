package version

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Name is the library name advertised in the User-Agent header.
const Name = "netkit"

// These variables are intended to be set at build time via -ldflags.
// Defaults are useful for local development builds.
var (
	// Version is the semantic version of the build, e.g. v0.1.0. Defaults to "dev".
	Version = "dev"
	// Commit is the short git commit hash. Defaults to ""
	Commit = ""
	// Date is the build timestamp in RFC3339. Defaults to ""
	Date = ""
	// Go is the Go toolchain version used for the build.
	Go = runtime.Version()
)

// DefaultBundleID is used when the caller does not identify itself.
const DefaultBundleID = "Unknown Client Identifier"

// Info returns a map of version/build metadata suitable for logging or JSON responses.
func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
		"go":      Go,
	}
}

// UserAgent builds the User-Agent header value:
//
//	netkit/<version> (<OS> <OSVersion>) (<bundle-id>)
func UserAgent(bundleID string) string {
	if strings.TrimSpace(bundleID) == "" {
		bundleID = DefaultBundleID
	}
	return fmt.Sprintf("%s/%s (%s %s) (%s)", Name, Version, osName(), osVersion(), bundleID)
}

func osName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return runtime.GOOS
	}
}

// osVersion reads VERSION_ID from /etc/os-release where available.
func osVersion() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return runtime.GOARCH
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "VERSION_ID="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return runtime.GOARCH
}
