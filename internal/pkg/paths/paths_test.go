package paths

import (
	"path/filepath"
	"testing"
)

func TestDefaultBoltPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	t.Setenv("HOME", "/tmp/home")

	got := DefaultBoltPath()
	if filepath.Base(got) != "thinktank.db" || filepath.Base(filepath.Dir(got)) != "thinktank" {
		t.Fatalf("DefaultBoltPath() = %q", got)
	}
}
