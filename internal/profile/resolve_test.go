package profile

import (
	"strings"
	"testing"
)

func TestResolveFlagWins(t *testing.T) {
	if got := Resolve("work"); got != "work" {
		t.Errorf("Resolve(\"work\") = %q, want work", got)
	}
}

func TestResolveDefault(t *testing.T) {
	// Point HOME at an empty dir so no config.toml is found.
	t.Setenv("HOME", t.TempDir())
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve(\"\") = %q, want %q", got, DefaultName)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work-profile", "a", "user_2", strings.Repeat("x", 64)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Main", "has space", "dot.name", "slash/name", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsShareProfileDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := Dir("main")
	for _, p := range []string{DBPath("main"), TokenPath("main"), LogPath("main")} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%q not under profile dir %q", p, dir)
		}
	}
}
