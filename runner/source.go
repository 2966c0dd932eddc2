package runner

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/kernelrunner/config"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
)

// ClipKey drops everything up to the last separator character, so
// "reductions/sum-float" becomes "float"
func ClipKey(key string) string {
	if i := strings.LastIndexAny(key, "/-;.[]{}(),"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// kernelSource is the text to compile and where it came from
type kernelSource struct {
	text string
	// path is empty for sources carried by the descriptor
	path string
}

// loadSource reads the configured source file, or
// <kernels-dir>/<clipped key>.<suffix>. When no file was named and the
// default one is absent, a descriptor with its own source supplies it.
func loadSource(opts *config.Options, d kernel.Descriptor, suffix string) (kernelSource, error) {
	path := opts.SourceFile
	if path == "" {
		path = filepath.Join(opts.KernelsDir, ClipKey(d.Key())+"."+suffix)
	}
	data, err := os.ReadFile(path)
	if err == nil {
		return kernelSource{text: string(data), path: path}, nil
	}
	if opts.SourceFile == "" && errors.Is(err, fs.ErrNotExist) {
		if sp, ok := d.(kernel.SourceProvider); ok {
			if text, found := sp.Source(suffix); found {
				return kernelSource{text: text}, nil
			}
		}
	}
	return kernelSource{}, fault.Wrap(fault.Configuration, err, "kernel source %s", path)
}

// includeDirs orders the source's own directory first, then the invoker's
// directories, then the driver's defaults
func includeDirs(src kernelSource, user, defaults []string) []string {
	dir := "."
	if src.path != "" {
		dir = filepath.Dir(src.path)
	}
	dirs := make([]string, 0, 1+len(user)+len(defaults))
	dirs = append(dirs, dir)
	dirs = append(dirs, user...)
	return append(dirs, defaults...)
}

// finalizeDefinitions is the union of definitions given generically and
// through descriptor-specific options. A later valued entry wins.
func finalizeDefinitions(sets ...[]config.Define) kernel.Definitions {
	defs := kernel.NewDefinitions()
	for _, set := range sets {
		for _, d := range set {
			if d.HasValue {
				defs.Valued[d.Name] = d.Value
			} else {
				defs.Valueless[d.Name] = struct{}{}
			}
		}
	}
	return defs
}

// valueless lists the valueless terms not also given a value
func valueless(defs kernel.Definitions) []string {
	var names []string
	for _, term := range defs.Terms() {
		if _, valued := defs.Valued[term]; !valued {
			names = append(names, term)
		}
	}
	return names
}

// blank reports whether a compiler log holds nothing but whitespace and
// trailing NULs
func blank(log string) bool {
	return strings.TrimSpace(strings.TrimRight(log, "\x00")) == ""
}
