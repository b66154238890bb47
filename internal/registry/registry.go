// Package registry compiles component sources into artifacts and owns the
// one live artifact per component name.
//
// Compilation runs parser, execution environment, template compiler, and
// style extractor; a fully built artifact is published with a single pointer
// swap so a reader never observes a half-updated artifact. A failed compile
// installs a Broken artifact carrying the error: a broken edit is surfaced,
// not masked behind stale output.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tagon-dev/tagon/internal/component"
	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/script"
	"github.com/tagon-dev/tagon/internal/style"
	"github.com/tagon-dev/tagon/internal/template"
	"github.com/tagon-dev/tagon/internal/value"
)

// ErrNotFound is returned by Get for unknown component names.
var ErrNotFound = errors.New("registry: component not found")

// ArtifactState is the compile outcome stored on an artifact.
type ArtifactState int

const (
	Ready ArtifactState = iota
	Broken
)

func (s ArtifactState) String() string {
	if s == Ready {
		return "ready"
	}
	return "broken"
}

// Artifact is one immutable compilation result. It is replaced wholesale on
// recompile, never mutated field by field.
type Artifact struct {
	Name       string
	Path       string
	State      ArtifactState
	Err        error // Set when Broken
	Style      string
	SourceHash string
	CompiledAt time.Time
	Directives []component.Directive

	// Per-section hashes, used to classify a recompile as style-only.
	htmlHash  string
	logicHash string
	styleHash string

	tmpl    *template.Template
	runtime *script.Runtime
}

// Render evaluates the artifact's template with the given render context.
// Only valid on Ready artifacts.
func (a *Artifact) Render(context map[string]value.Value) (string, error) {
	if a.State != Ready {
		return "", a.Err
	}
	var symbols map[string]value.Value
	if a.runtime != nil {
		symbols = a.runtime.Symbols
	}
	return a.tmpl.Render(symbols, context)
}

// Outcome reports one compile run for reload classification.
type Outcome struct {
	Name      string
	Err       error // nil on success
	StyleOnly bool  // Only the style text changed relative to the prior artifact
}

// entry holds the current artifact for one component name. renderMu lets
// renders proceed concurrently with each other while a swap waits for
// in-flight renders, so the old runtime is only released once unobserved.
type entry struct {
	current  atomic.Pointer[Artifact]
	renderMu sync.RWMutex
}

// Registry maps component names to their live artifacts.
type Registry struct {
	config *config.Config
	mu     sync.RWMutex
	byName map[string]*entry
}

// New creates an empty registry.
func New(cfg *config.Config) *Registry {
	return &Registry{
		config: cfg,
		byName: make(map[string]*entry),
	}
}

// Log logs a message via the config.
func (r *Registry) Log(level int, format string, args ...interface{}) {
	r.config.Log(level, format, args...)
}

func (r *Registry) getEntry(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) ensureEntry(name string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		return e
	}
	e := &entry{}
	r.byName[name] = e
	return e
}

// Compile builds an artifact from source and installs it, replacing any prior
// artifact for the same name. Failure at any stage installs a Broken artifact;
// other components are never affected.
func (r *Registry) Compile(source *component.Source) Outcome {
	artifact := r.build(source)

	e := r.ensureEntry(source.Name)
	e.renderMu.Lock()
	prev := e.current.Swap(artifact)
	e.renderMu.Unlock()
	if prev != nil && prev.runtime != nil {
		prev.runtime.Close()
	}

	if artifact.Err != nil {
		r.Log(0, "registry: compile %s failed: %v", source.Name, artifact.Err)
	} else {
		r.Log(2, "registry: compiled %s (%s)", source.Name, artifact.SourceHash[:12])
	}

	return Outcome{
		Name:      source.Name,
		Err:       artifact.Err,
		StyleOnly: classifyStyleOnly(prev, artifact),
	}
}

// build runs the compile pipeline without touching the registry.
func (r *Registry) build(source *component.Source) *Artifact {
	artifact := &Artifact{
		Name:       source.Name,
		Path:       source.Path,
		SourceHash: source.Hash,
		CompiledAt: time.Now(),
	}

	parsed, err := component.Parse(source.Raw)
	if err != nil {
		return brokenArtifact(artifact, fmt.Errorf("component %s: %w", source.Name, err))
	}
	artifact.Directives = parsed.Directives
	artifact.htmlHash = component.HashText(parsed.HTML)
	artifact.logicHash = component.HashText(parsed.Imports + "\n" + parsed.Functions)

	runtime, err := script.Execute(r.config, source.Name, parsed.Imports, parsed.Functions)
	if err != nil {
		return brokenArtifact(artifact, err)
	}

	tmpl, err := template.Compile(source.Name, parsed.HTML)
	if err != nil {
		runtime.Close()
		return brokenArtifact(artifact, err)
	}

	artifact.Style = style.Resolve(parsed.CSS, source.Path)
	artifact.styleHash = component.HashText(artifact.Style)
	artifact.tmpl = tmpl
	artifact.runtime = runtime
	artifact.State = Ready
	return artifact
}

func brokenArtifact(a *Artifact, err error) *Artifact {
	a.State = Broken
	a.Err = err
	return a
}

// classifyStyleOnly reports whether the new artifact differs from the prior
// one in style text only. Anything else (markup or logic change, a break, a
// recovery) is a full change.
func classifyStyleOnly(prev, next *Artifact) bool {
	if prev == nil || next == nil {
		return false
	}
	if prev.State != Ready || next.State != Ready {
		return false
	}
	return prev.htmlHash == next.htmlHash &&
		prev.logicHash == next.logicHash &&
		prev.styleHash != next.styleHash
}

// CompileFile loads a component source from disk and compiles it.
func (r *Registry) CompileFile(path string) (Outcome, error) {
	source, err := component.LoadSource(path)
	if err != nil {
		return Outcome{Name: component.NameFromPath(path)}, err
	}
	return r.Compile(source), nil
}

// Get renders the named component with the supplied render context and
// returns markup plus style text. A Broken entry returns its stored compile
// error; a render failure returns a *template.RenderError. When the on-disk
// content hash differs from the artifact's source hash the component is
// recompiled first.
func (r *Registry) Get(name string, context map[string]value.Value) (markup, styleText string, err error) {
	e, ok := r.getEntry(name)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if a := e.current.Load(); a != nil {
		r.maybeRecompile(a)
	}

	e.renderMu.RLock()
	defer e.renderMu.RUnlock()

	artifact := e.current.Load()
	if artifact == nil {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if artifact.State == Broken {
		return "", "", artifact.Err
	}
	markup, err = artifact.Render(context)
	if err != nil {
		return "", "", err
	}
	return markup, artifact.Style, nil
}

// maybeRecompile recompiles lazily when the file content no longer matches
// the artifact's source hash.
func (r *Registry) maybeRecompile(a *Artifact) {
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		return
	}
	if component.HashText(string(raw)) == a.SourceHash {
		return
	}
	r.Log(2, "registry: %s changed on disk, recompiling", a.Name)
	if _, err := r.CompileFile(a.Path); err != nil {
		r.Log(0, "registry: lazy recompile of %s failed: %v", a.Name, err)
	}
}

// Directives returns the parsed directive list for a component, for the
// routing layer's middleware and guard dispatch.
func (r *Registry) Directives(name string) ([]component.Directive, bool) {
	e, ok := r.getEntry(name)
	if !ok {
		return nil, false
	}
	a := e.current.Load()
	if a == nil {
		return nil, false
	}
	return a.Directives, true
}

// Lookup returns the current artifact for a name without rendering.
func (r *Registry) Lookup(name string) (*Artifact, bool) {
	e, ok := r.getEntry(name)
	if !ok {
		return nil, false
	}
	a := e.current.Load()
	return a, a != nil
}

// Remove drops a component's entry, releasing its runtime.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	e, ok := r.byName[name]
	delete(r.byName, name)
	r.mu.Unlock()
	if !ok {
		return
	}
	e.renderMu.Lock()
	old := e.current.Swap(nil)
	e.renderMu.Unlock()
	if old != nil && old.runtime != nil {
		old.runtime.Close()
	}
	r.Log(2, "registry: removed %s", name)
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// LoadDir walks a component source tree and compiles every component file.
// Individual compile failures are recorded on their entries; only walk
// errors are returned.
func (r *Registry) LoadDir(dir, extension string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, extension) {
			return nil
		}
		if _, lerr := r.CompileFile(path); lerr != nil {
			r.Log(0, "registry: loading %s: %v", path, lerr)
		}
		return nil
	})
}
