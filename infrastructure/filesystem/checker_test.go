package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestChecker_Exists(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full.mp4")
	empty := filepath.Join(dir, "empty.mp4")
	os.WriteFile(full, []byte("data"), 0o644)
	os.WriteFile(empty, nil, 0o644)

	c := NewChecker()
	tests := []struct {
		path string
		want bool
	}{
		{full, true},
		{empty, false},
		{dir, false},
		{filepath.Join(dir, "missing.mp4"), false},
	}
	for _, tt := range tests {
		if got := c.Exists(tt.path); got != tt.want {
			t.Errorf("Exists(%s) = %v, want %v", filepath.Base(tt.path), got, tt.want)
		}
	}
}
