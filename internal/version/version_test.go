package version

import "testing"

func TestInfoParsesBuildTime(t *testing.T) {
	orig := BuildTime
	t.Cleanup(func() { BuildTime = orig })

	BuildTime = "2026-01-02T03:04:05Z"
	if got := Info(); got.BuiltAt.IsZero() || got.BuiltAt.Year() != 2026 {
		t.Fatalf("build time not parsed: %+v", got)
	}

	BuildTime = "unknown"
	if got := Info(); !got.BuiltAt.IsZero() {
		t.Fatalf("unknown build time should stay zero: %+v", got)
	}
}
