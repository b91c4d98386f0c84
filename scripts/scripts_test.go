package scripts

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"thrustrig/parser"
)

func TestSamplesParse(t *testing.T) {
	names, err := fs.Glob(FS, "*.rig")
	if err != nil || len(names) == 0 {
		t.Fatalf("no embedded scripts: %v", err)
	}
	for _, name := range names {
		data, err := FS.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if _, err := parser.Parse(string(data)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestInstallKeepsExisting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")
	n, err := Install(dir)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	all, _ := fs.Glob(FS, "*.rig")
	if n != len(all) {
		t.Fatalf("installed %d, want %d", n, len(all))
	}

	custom := filepath.Join(dir, "ramp.rig")
	if err := os.WriteFile(custom, []byte("ADD_POINT\n"), 0644); err != nil {
		t.Fatal(err)
	}
	n, err = Install(dir)
	if err != nil || n != 0 {
		t.Fatalf("second Install = %d, %v", n, err)
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "ADD_POINT\n" {
		t.Fatalf("Install overwrote an edited script")
	}
}
