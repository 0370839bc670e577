package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "0.1.0-dev"

// Overridden at release time with -ldflags "-X".
var (
	AppName   = "filesyncer"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// Info is the resolved build metadata of the running binary.
type Info struct {
	App       string
	Version   string
	Revision  string
	BuildDate string
	GoVersion string
	Platform  string
}

// fill replaces placeholder values with module and vcs metadata recorded by the
// go toolchain.
func (i *Info) fill(mainVersion string, settings []debug.BuildSetting) {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}

	if i.Version == devVersion || i.Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			i.Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if i.Revision == "HEAD" || i.Revision == "" {
		if rev := vcs["vcs.revision"]; rev != "" {
			if len(rev) > 12 {
				rev = rev[:12]
			}
			if vcs["vcs.modified"] == "true" {
				rev += "-dirty"
			}
			i.Revision = rev
		}
	}

	if i.BuildDate == "" {
		i.BuildDate = vcs["vcs.time"]
	}
}

func Get() Info {
	info := Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		info.fill(bi.Main.Version, bi.Settings)
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

// Short returns `0.1.0 (5e23a4b1c2d3)`
func Short() string {
	i := Get()
	return fmt.Sprintf("%s (%s)", i.Version, i.Revision)
}

// ShortWithApp returns `filesyncer 0.1.0 (5e23a4b1c2d3)`
func ShortWithApp() string {
	return AppName + " " + Short()
}

// Detailed returns `0.1.0 (5e23a4b1c2d3; go1.23.6; linux/amd64; 2025-01-01T00:00:00Z)`
func Detailed() string {
	i := Get()
	return fmt.Sprintf("%s (%s; %s; %s; %s)", i.Version, i.Revision, i.GoVersion, i.Platform, i.BuildDate)
}
