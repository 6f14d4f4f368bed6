// Package version provides build information for the playback service.
package version

import "fmt"

// Homepage is reported in the User-Agent of outbound requests.
const Homepage = "https://github.com/edumarques81/stellar-playback"

// These variables are set at build time using -ldflags
var (
	Name      = "Stellar Playback"
	Version   = "1.0.0"
	BuildTime = ""
	GitCommit = ""
)

// Info contains version information
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo returns the current version information
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

// String returns a formatted version string
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return s
}

// UserAgent returns "Stellar-Playback/<version> (<homepage>)".
func UserAgent() string {
	return fmt.Sprintf("Stellar-Playback/%s (%s)", Version, Homepage)
}
