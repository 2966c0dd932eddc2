package buffers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
)

// Store reads input buffers from and writes output buffers to plain files.
// Contents are raw bytes.
type Store struct {
	InputDir  string
	OutputDir string
	// Overrides replaces a buffer's default file name
	Overrides map[string]string
	Overwrite bool
}

// InputPath is <input-dir>/<override or name>
func (s Store) InputPath(name string) string {
	file := name
	if o, ok := s.Overrides[name]; ok && o != "" {
		file = o
	}
	return filepath.Join(s.InputDir, file)
}

// OutputPath is <output-dir>/<override or name.out>. Inout buffers always
// use <name>.out, since their override names the input file.
func (s Store) OutputPath(name string, dir kernel.Direction) string {
	file := name + ".out"
	if o, ok := s.Overrides[name]; ok && o != "" && dir == kernel.DirectionOut {
		file = o
	}
	return filepath.Join(s.OutputDir, file)
}

// Read loads every buffer the descriptor reads
func (s Store) Read(d kernel.Descriptor) (kernel.HostBuffers, error) {
	bufs := make(kernel.HostBuffers)
	for _, name := range kernel.BufferNames(d.Parameters(), kernel.DirectionIn, kernel.DirectionInOut) {
		path := s.InputPath(name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fault.Validationf("input buffer %s: file %s does not exist", name, path)
			}
			return nil, fmt.Errorf("reading input buffer %s: %w", name, err)
		}
		bufs[name] = data
	}
	return bufs, nil
}

// OutputPaths maps each written buffer to its file
func (s Store) OutputPaths(d kernel.Descriptor) map[string]string {
	paths := make(map[string]string)
	for _, p := range d.Parameters() {
		if p.Kind == kernel.Buffer && p.Direction.Writes() {
			paths[p.Name] = s.OutputPath(p.Name, p.Direction)
		}
	}
	return paths
}

// CheckWritable refuses files whose directory is missing, and existing
// files unless overwriting is allowed. paths maps what a file holds to it.
func (s Store) CheckWritable(paths map[string]string) error {
	for _, name := range sortedKeys(paths) {
		path := paths[name]
		dir := filepath.Dir(path)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fault.Configurationf("directory %s for %s does not exist", dir, name)
		}
		if s.Overwrite {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return fault.Configurationf("output file %s for %s exists; allow overwriting to replace it", path, name)
		}
	}
	return nil
}

// Write stores data at path. Without Overwrite the file is created
// exclusively, so a file appearing since CheckWritable is still refused.
func (s Store) Write(path string, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !s.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fault.Configurationf("refusing to overwrite %s", path)
		}
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
