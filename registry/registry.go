// Package registry keeps the library of named test scripts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Ext is the file extension of script files.
const Ext = ".rig"

type Script struct {
	Name string
	Path string

	// Dir is set for scripts found by Scan.
	Dir string
}

// ErrNotFound is returned by Resolve for an unknown name that is not a file.
var ErrNotFound = errors.New("script not found")

type Registry struct {
	mu      sync.RWMutex
	scripts map[string]*Script
}

func New() *Registry {
	return &Registry{scripts: make(map[string]*Script)}
}

// Register adds or replaces a named script.
func (r *Registry) Register(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[name] = &Script{Name: name, Path: path}
}

func (r *Registry) Get(name string) *Script {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scripts[name]
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scan registers every script file in dir under its base name, replacing the
// scripts an earlier Scan of dir found. Scripts registered by hand are kept.
func (r *Registry) Scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scan scripts: %w", err)
	}
	found := make(map[string]*Script)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		name := strings.TrimSuffix(e.Name(), Ext)
		found[name] = &Script{Name: name, Path: filepath.Join(dir, e.Name()), Dir: dir}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.scripts {
		if s.Dir == dir {
			delete(r.scripts, name)
		}
	}
	for name, s := range found {
		if _, ok := r.scripts[name]; ok {
			log.Printf("registry: %s in %s shadowed by an existing script", name, dir)
			continue
		}
		r.scripts[name] = s
	}
	return nil
}

// Resolve maps a script name or a file path to a path. Registered names win
// over files of the same name.
func (r *Registry) Resolve(nameOrPath string) (string, error) {
	if s := r.Get(nameOrPath); s != nil {
		return s.Path, nil
	}
	if st, err := os.Stat(nameOrPath); err == nil && !st.IsDir() {
		return nameOrPath, nil
	}
	return "", fmt.Errorf("%q: %w", nameOrPath, ErrNotFound)
}

// Watch rescans dir whenever a script file in it is created, removed,
// renamed or written, and calls onChange after each rescan. It blocks until
// ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, dir string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch scripts: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Ext(event.Name) != Ext || event.Op == fsnotify.Chmod {
				continue
			}
			if err := r.Scan(dir); err != nil {
				log.Printf("registry: %v", err)
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			log.Printf("registry: watcher error: %v", err)
		}
	}
}
