package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Status is a plugin's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

type pluginRecord struct {
	ID         string
	ProjectDir string
	PluginDir  string // empty for a single-file plugin
	SOPath     string
	Manifest   PluginManifest

	Status      Status
	Error       string
	Entries     map[string]Entry // nil unless Status == StatusActive
	NodeTypes   []string          // types this plugin provides (cached across deactivation)
	Hooks       Hooks
	Fingerprint []byte
}

// Registry discovers, tracks, and serves node-type definitions sourced
// from plugins on disk. All public operations are serialized by a single
// mutex so Snapshot never observes a torn state.
type Registry struct {
	root      string
	statePath string
	loader    ModuleLoader
	logger    *zap.Logger

	mu       sync.Mutex
	plugins  map[string]*pluginRecord
	active   map[string]Entry
	inactive map[string]string

	watcher      *fsnotify.Watcher
	watchStop    chan struct{}
	watchPending chan struct{}
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLoader overrides the default GoPluginLoader, primarily for tests.
func WithLoader(l ModuleLoader) Option {
	return func(r *Registry) { r.loader = l }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry rooted at root, with state tracked in
// <root>/plugins_state.json.
func New(root string, opts ...Option) *Registry {
	r := &Registry{
		root:      root,
		statePath: filepath.Join(root, "plugins_state.json"),
		loader:    GoPluginLoader{},
		logger:    zap.NewNop(),
		plugins:   map[string]*pluginRecord{},
		active:    map[string]Entry{},
		inactive:  map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover performs the initial scan of the plugin root.
func (r *Registry) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoverLocked()
}

// Reload drops every plugin-sourced entry and re-runs discovery.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoverLocked()
}

func (r *Registry) discoverLocked() error {
	state := readStateFile(r.statePath, r.logger)
	plugins := map[string]*pluginRecord{}

	projectEntries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("read plugin root %s: %w", r.root, err)
	}

	for _, pe := range projectEntries {
		if !pe.IsDir() {
			continue
		}
		project := pe.Name()
		projectDir := filepath.Join(r.root, project)
		projectManifest, err := loadProjectManifest(projectDir)
		if err != nil {
			r.logger.Warn("failed to read project manifest", zap.String("project", project), zap.Error(err))
		}

		nodesDir := filepath.Join(projectDir, "nodes")
		nodeEntries, err := os.ReadDir(nodesDir)
		if err != nil {
			continue
		}

		for _, ne := range nodeEntries {
			rec := r.scanPluginEntry(project, projectDir, nodesDir, ne, projectManifest)
			if rec == nil {
				continue
			}

			if state[rec.ID] == stateValueInactive {
				rec.Status = StatusInactive
				rec.NodeTypes = rec.Manifest.Provides
				plugins[rec.ID] = rec
				continue
			}

			if err := r.loadPluginLocked(rec); err != nil {
				rec.Status = StatusError
				rec.Error = err.Error()
				r.logger.Warn("plugin load failed", zap.String("plugin", rec.ID), zap.Error(err))
			}
			plugins[rec.ID] = rec
		}
	}

	r.plugins = plugins
	r.rebuildActiveLocked()
	return nil
}

func (r *Registry) scanPluginEntry(project, projectDir, nodesDir string, ne os.DirEntry, projectManifest ProjectManifest) *pluginRecord {
	name := ne.Name()

	var pluginName, soPath, pluginDir string
	var pluginManifest PluginManifest

	if ne.IsDir() {
		pluginName = name
		pluginDir = filepath.Join(nodesDir, name)
		soPath = filepath.Join(pluginDir, "plugin.so")
		if m, err := loadPluginManifest(pluginDir); err == nil {
			pluginManifest = m
		}
	} else {
		if !strings.HasSuffix(name, ".so") {
			return nil
		}
		pluginName = strings.TrimSuffix(name, ".so")
		soPath = filepath.Join(nodesDir, name)
	}

	return &pluginRecord{
		ID:         project + "/" + pluginName,
		ProjectDir: projectDir,
		PluginDir:  pluginDir,
		SOPath:     soPath,
		Manifest:   merge(projectManifest, pluginManifest),
	}
}

func (r *Registry) loadPluginLocked(rec *pluginRecord) error {
	exported, err := r.loader.Load(rec.SOPath)
	if err != nil {
		return err
	}

	entries := make(map[string]Entry, len(exported.Nodes))
	types := make([]string, 0, len(exported.Nodes))
	for _, en := range exported.Nodes {
		if en.Spec.Type == "" {
			return fmt.Errorf("plugin %s: node spec missing a type", rec.ID)
		}
		entries[en.Spec.Type] = Entry{
			Spec:     en.Spec,
			Execute:  wrapRun(en.Spec, en.Run),
			PluginID: rec.ID,
		}
		types = append(types, en.Spec.Type)
	}
	sort.Strings(types)

	if fp, err := fingerprint(rec.SOPath); err == nil {
		rec.Fingerprint = fp
	}

	rec.Entries = entries
	rec.NodeTypes = types
	rec.Hooks = exported.Hooks
	rec.Status = StatusActive
	rec.Error = ""
	return nil
}

func (r *Registry) rebuildActiveLocked() {
	active := map[string]Entry{}
	inactive := map[string]string{}
	for id, rec := range r.plugins {
		switch rec.Status {
		case StatusActive:
			for t, e := range rec.Entries {
				active[t] = e
			}
		default:
			for _, t := range rec.NodeTypes {
				inactive[t] = id
			}
		}
	}
	r.active = active
	r.inactive = inactive
}

// Snapshot returns an immutable view of the registry's currently active
// node types, suitable for handing to the validator or executor.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[string]Entry, len(r.active))
	for k, v := range r.active {
		active[k] = v
	}
	inactive := make(map[string]string, len(r.inactive))
	for k, v := range r.inactive {
		inactive[k] = v
	}
	return Snapshot{active: active, inactive: inactive}
}

// Activate removes the Inactive marker from the state file, loads the
// plugin's module, and runs its on_activate hook if present. Fails if the
// plugin does not exist on disk. Idempotent on an already-active plugin.
func (r *Registry) Activate(pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin %s not found", pluginID)
	}
	if rec.Status == StatusActive {
		return nil
	}

	state := readStateFile(r.statePath, r.logger)
	delete(state, pluginID)
	if err := writeStateFile(r.statePath, state); err != nil {
		return fmt.Errorf("write plugin state: %w", err)
	}

	if err := r.loadPluginLocked(rec); err != nil {
		rec.Status = StatusError
		rec.Error = err.Error()
		r.rebuildActiveLocked()
		return fmt.Errorf("activate %s: %w", pluginID, err)
	}
	r.rebuildActiveLocked()

	if rec.Hooks.OnActivate != nil {
		safeCall(r.logger, pluginID, "on_activate", rec.Hooks.OnActivate)
	}
	return nil
}

// Deactivate writes "inactive" to the state file, removes every node type
// the plugin declared from the active registry, and runs on_deactivate.
// Idempotent on an already-inactive plugin.
func (r *Registry) Deactivate(pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin %s not found", pluginID)
	}
	if rec.Status == StatusInactive {
		return nil
	}

	state := readStateFile(r.statePath, r.logger)
	state[pluginID] = stateValueInactive
	if err := writeStateFile(r.statePath, state); err != nil {
		return fmt.Errorf("write plugin state: %w", err)
	}

	types := make([]string, 0, len(rec.Entries))
	for t := range rec.Entries {
		types = append(types, t)
	}
	sort.Strings(types)
	if len(types) == 0 {
		types = rec.Manifest.Provides
	}

	rec.NodeTypes = types
	rec.Entries = nil
	rec.Status = StatusInactive
	r.rebuildActiveLocked()

	if rec.Hooks.OnDeactivate != nil {
		safeCall(r.logger, pluginID, "on_deactivate", rec.Hooks.OnDeactivate)
	}
	return nil
}

// Delete requires the plugin to be Inactive, runs on_uninstall, removes
// its files from disk, and purges its state entry.
func (r *Registry) Delete(pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin %s not found", pluginID)
	}
	if rec.Status != StatusInactive {
		return fmt.Errorf("plugin %s must be inactive before it can be deleted", pluginID)
	}

	if rec.Hooks.OnUninstall != nil {
		safeCall(r.logger, pluginID, "on_uninstall", rec.Hooks.OnUninstall)
	}

	target := rec.PluginDir
	if target == "" {
		target = rec.SOPath
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove plugin files for %s: %w", pluginID, err)
	}

	state := readStateFile(r.statePath, r.logger)
	delete(state, pluginID)
	if err := writeStateFile(r.statePath, state); err != nil {
		return fmt.Errorf("write plugin state: %w", err)
	}

	delete(r.plugins, pluginID)
	r.rebuildActiveLocked()
	return nil
}

// ActivateProject activates every plugin under a project scope.
func (r *Registry) ActivateProject(project string) error {
	for _, id := range r.pluginIDsForProject(project) {
		if err := r.Activate(id); err != nil {
			return err
		}
	}
	return nil
}

// DeactivateProject deactivates every plugin under a project scope.
func (r *Registry) DeactivateProject(project string) error {
	for _, id := range r.pluginIDsForProject(project) {
		if err := r.Deactivate(id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) pluginIDsForProject(project string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := project + "/"
	var ids []string
	for id := range r.plugins {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// PluginStatus is the status snapshot returned by Status(pluginID).
type PluginStatus struct {
	ID        string
	Status    Status
	Error     string
	NodeTypes []string
}

// PluginStatusOf returns the current status of one plugin.
func (r *Registry) PluginStatusOf(pluginID string) (PluginStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.plugins[pluginID]
	if !ok {
		return PluginStatus{}, false
	}
	return PluginStatus{ID: rec.ID, Status: rec.Status, Error: rec.Error, NodeTypes: rec.NodeTypes}, true
}

// ListPlugins returns the status of every discovered plugin, ordered by id.
func (r *Registry) ListPlugins() []PluginStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PluginStatus, 0, len(r.plugins))
	for _, rec := range r.plugins {
		out = append(out, PluginStatus{ID: rec.ID, Status: rec.Status, Error: rec.Error, NodeTypes: rec.NodeTypes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func safeCall(logger *zap.Logger, pluginID, hookName string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("plugin hook panicked",
				zap.String("plugin", pluginID), zap.String("hook", hookName), zap.Any("panic", rec))
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("plugin hook failed",
			zap.String("plugin", pluginID), zap.String("hook", hookName), zap.Error(err))
	}
}

// Watch starts an fsnotify watch over the plugin root and every project's
// nodes/ directory, debouncing change bursts before calling Reload(). The
// returned stop function halts the watch; it is safe to call once.
func (r *Registry) Watch(debounce time.Duration) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dirs := r.watchableDirs()
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			r.logger.Warn("failed to watch directory", zap.String("dir", d), zap.Error(err))
		}
	}

	stopCh := make(chan struct{})
	go r.watchLoop(w, debounce, stopCh)

	r.watcher = w
	r.watchStop = stopCh

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			w.Close()
		})
	}, nil
}

func (r *Registry) watchableDirs() []string {
	dirs := []string{r.root}
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return dirs
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nodesDir := filepath.Join(r.root, e.Name(), "nodes")
		if fi, err := os.Stat(nodesDir); err == nil && fi.IsDir() {
			dirs = append(dirs, nodesDir)
		}
	}
	return dirs
}

func (r *Registry) watchLoop(w *fsnotify.Watcher, debounce time.Duration, stop <-chan struct{}) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-stop:
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			if err := r.Reload(); err != nil {
				r.logger.Warn("plugin reload failed", zap.Error(err))
			}
			timerC = nil
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}
