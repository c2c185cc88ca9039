package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestApplyBuildSettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	var i Info
	applyBuildSettings(&i, settings)
	if i.GitCommit != "0123456789abcdef" || i.BuildDate != "2026-01-02T03:04:05Z" || !i.Modified {
		t.Errorf("applyBuildSettings() = %+v", i)
	}

	stamped := Info{GitCommit: "release", BuildDate: "today"}
	applyBuildSettings(&stamped, settings)
	if stamped.GitCommit != "release" || stamped.BuildDate != "today" {
		t.Errorf("ldflags values overwritten: %+v", stamped)
	}
}

func TestBanner(t *testing.T) {
	b := Banner()
	if !strings.HasPrefix(b, Name+" "+Version+" (") {
		t.Errorf("Banner() = %q", b)
	}
	if i := Get(); i.GitCommit == "" || i.BuildDate == "" {
		t.Errorf("Get() left fields empty: %+v", i)
	}
}
