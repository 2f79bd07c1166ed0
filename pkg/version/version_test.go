package version

import (
	"strings"
	"testing"
	"time"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.Commit == "" {
		t.Error("Commit should not be empty")
	}
	if info.BuildDate == "" {
		t.Error("BuildDate should not be empty")
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should not be empty")
	}
	if info.Platform == "" {
		t.Error("Platform should not be empty")
	}
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	validDate := "2026-01-13T20:00:00Z"
	BuildDate = validDate

	info := GetBuildInfo()

	if info.BuildTime.IsZero() {
		t.Error("BuildTime should be parsed from valid RFC3339 date")
	}

	expectedTime, _ := time.Parse(time.RFC3339, validDate)
	if !info.BuildTime.Equal(expectedTime) {
		t.Errorf("BuildTime = %v, want %v", info.BuildTime, expectedTime)
	}
}

func TestGetBuildInfo_IgnoresInvalidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "unknown"

	info := GetBuildInfo()
	if !info.BuildTime.IsZero() {
		t.Errorf("BuildTime should stay zero for invalid dates, got %v", info.BuildTime)
	}
}

func TestDefaultValues(t *testing.T) {
	if GoVersion == "" {
		t.Error("GoVersion should be set by runtime.Version()")
	}
	if Platform == "" {
		t.Error("Platform should be set by runtime.GOOS/GOARCH")
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "gerritctl/") {
		t.Errorf("UserAgent = %q, want gerritctl/ prefix", ua)
	}
	if !strings.HasSuffix(ua, Version) {
		t.Errorf("UserAgent = %q, should end with Version %q", ua, Version)
	}
}
