package global

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/lunfardo314/nodexec/util/lines"
)

// Version is the version of the nodexec
const (
	Version        = "v0.2.0"
	bannerTemplate = "nodexec version %s, commit hash: %s, commit time: %s"
	logHeader      = "================= startup =================="
)

var (
	CommitHash = "N/A"
	CommitTime = "N/A"

	// libraries reported by the version command
	versionedModules = []string{
		"github.com/libp2p/go-libp2p",
		"github.com/libp2p/go-libp2p-kad-dht",
		"github.com/dgraph-io/badger/v4",
		"github.com/prometheus/client_golang",
	}
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				CommitHash = setting.Value
			}
			if setting.Key == "vcs.time" {
				CommitTime = setting.Value
			}
		}
	}
}

func BannerString() string {
	return fmt.Sprintf(bannerTemplate, Version, CommitHash, CommitTime)
}

func LogHeader() string {
	return logHeader
}

// VersionLines lists own version and versions of the node libraries linked into the binary
func VersionLines(prefix ...string) *lines.Lines {
	ret := lines.New(prefix...)
	ret.Add("Version Information:")
	ret.Add("")
	ret.Add("nodexec:  %s", Version)
	deps := make(map[string]string)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			deps[dep.Path] = dep.Version
		}
	}
	for _, path := range versionedModules {
		v, found := deps[path]
		if !found {
			v = "unknown"
		}
		name := path[strings.LastIndex(path, "/")+1:]
		if strings.HasSuffix(path, "/v4") {
			name = strings.TrimSuffix(path, "/v4")
			name = name[strings.LastIndex(name, "/")+1:]
		}
		ret.Add("%-9s %s", name+":", v)
	}
	return ret
}
