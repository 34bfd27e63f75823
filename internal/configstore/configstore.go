// Package configstore persists experiment templates, bricklet hardware
// configuration records, and finalized experiment records as one JSON
// file per integer UID inside a configured directory. It is the system
// of record behind the HTTP config endpoints.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// filenamePattern matches the on-disk naming, obj_<uid>.json.
var filenamePattern = regexp.MustCompile(`^obj_([0-9]+)\.json$`)

// Kind identifies which object class a folder holds. Each kind gets its
// own subdirectory so /led, /bricklet, /exp_tmp and /experiment never
// collide on UID.
type Kind string

const (
	KindLed        Kind = "led"
	KindBricklet   Kind = "bricklet"
	KindExpTmp     Kind = "exp_tmp"
	KindConfig     Kind = "config"
	KindExperiment Kind = "experiment"
)

// Record is the minimal shape every persisted object must carry: an
// integer UID and a short description used by the /list_* endpoints.
// Callers embed this alongside their own fields when marshalling.
type Record struct {
	UID         uint64 `json:"uid"`
	Description string `json:"name"`
}

// Folder is a keyed JSON file folder for one object Kind, guarded by a
// single mutex, with an optional fsnotify watcher for out-of-band edits.
type Folder struct {
	dir  string
	kind Kind

	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func()
}

// Open ensures the folder's directory exists and returns a handle bound
// to it. root is the configstore's base directory; each Kind lives in
// its own subdirectory (root/led, root/bricklet, ...).
func Open(root string, kind Kind) (*Folder, error) {
	dir := filepath.Join(root, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("configstore: create %s: %w", dir, err)
	}
	return &Folder{dir: dir, kind: kind}, nil
}

// Watch arms an fsnotify watcher on the folder's directory and invokes
// onChange whenever a file is created, written, renamed, or removed out
// of band (an operator editing obj_<uid>.json directly). It does not
// itself maintain an in-memory index; callers re-List() on notification.
func (f *Folder) Watch(onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configstore: watch %s: %w", f.dir, err)
	}
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return fmt.Errorf("configstore: watch %s: %w", f.dir, err)
	}

	f.mu.Lock()
	f.watcher = w
	f.onChange = onChange
	f.mu.Unlock()

	go f.watchLoop(w)
	return nil
}

func (f *Folder) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !filenamePattern.MatchString(filepath.Base(ev.Name)) {
				continue
			}
			f.mu.RLock()
			cb := f.onChange
			f.mu.RUnlock()
			if cb != nil {
				cb()
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the folder's watcher, if armed.
func (f *Folder) Close() error {
	f.mu.Lock()
	w := f.watcher
	f.watcher = nil
	f.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

func (f *Folder) path(uid uint64) string {
	return filepath.Join(f.dir, fmt.Sprintf("obj_%d.json", uid))
}

// Save writes v as obj_<uid>.json, overwriting any existing file for
// that UID.
func (f *Folder) Save(uid uint64, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("configstore: marshal uid %d: %w", uid, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(f.path(uid), data, 0o644); err != nil {
		return fmt.Errorf("configstore: write uid %d: %w", uid, err)
	}
	return nil
}

// Load reads obj_<uid>.json into v.
func (f *Folder) Load(uid uint64, v interface{}) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := os.ReadFile(f.path(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("configstore: uid %d not found", uid)
		}
		return fmt.Errorf("configstore: read uid %d: %w", uid, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("configstore: unmarshal uid %d: %w", uid, err)
	}
	return nil
}

// Delete removes obj_<uid>.json.
func (f *Folder) Delete(uid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(uid)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("configstore: uid %d not found", uid)
		}
		return fmt.Errorf("configstore: delete uid %d: %w", uid, err)
	}
	return nil
}

// ListResult is one entry of a /list_* response:
// {"results":[{uid, description}...]}.
type ListResult struct {
	UID         uint64 `json:"uid"`
	Description string `json:"description"`
}

// List scans the folder for obj_<uid>.json files and returns their
// (uid, description) pairs. Files that don't match the naming pattern or
// fail to parse are skipped rather than failing the whole listing.
func (f *Folder) List() ([]ListResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("configstore: list %s: %w", f.dir, err)
	}

	results := make([]ListResult, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		uid, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		results = append(results, ListResult{UID: uid, Description: rec.Description})
	}
	return results, nil
}
