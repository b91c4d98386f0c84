// Package scripts carries the sample test scripts shipped with the bench.
package scripts

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

//go:embed *.rig
var FS embed.FS

// Install copies the sample scripts into dir. Existing files are left alone.
func Install(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create scripts dir: %w", err)
	}
	names, err := fs.Glob(FS, "*.rig")
	if err != nil {
		return 0, err
	}
	installed := 0
	for _, name := range names {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := FS.ReadFile(name)
		if err != nil {
			return installed, err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return installed, fmt.Errorf("install %s: %w", name, err)
		}
		installed++
	}
	if installed > 0 {
		log.Printf("installed %d sample script(s) in %s", installed, dir)
	}
	return installed, nil
}
