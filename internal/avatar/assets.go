package avatar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

// ModelInfo is the inventory of one face model on disk
type ModelInfo struct {
	Path         string   `json:"path"`
	Name         string   `json:"name"`
	MeshCount    int      `json:"meshCount"`
	MorphTargets []string `json:"morphTargets"`
	// rig channels the model cannot express
	MissingShapes []string `json:"missingShapes"`
}

// Library inventories the glTF face models in a directory and hot
// reloads them when files change.
type Library struct {
	dir      string
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu     sync.RWMutex
	models map[string]ModelInfo

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewLibrary(dir string, eventBus *bus.EventBus, logger zerolog.Logger) *Library {
	return &Library{
		dir:      dir,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "avatar-assets").Logger(),
		models:   make(map[string]ModelInfo),
	}
}

// Load scans the directory and inventories every model found. A model
// that fails to parse is skipped with a warning.
func (l *Library) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read asset directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isModelFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.reload(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable model")
			continue
		}
		loaded++
	}

	l.logger.Info().Int("models", loaded).Str("dir", l.dir).Msg("Avatar assets loaded")
	return nil
}

// Watch starts hot reloading models on file changes
func (l *Library) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})
	go l.watchLoop()
	return nil
}

// Close stops the watcher if one is running
func (l *Library) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}

// Model returns the inventory for one path
func (l *Library) Model(path string) (ModelInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, ok := l.models[path]
	return info, ok
}

// Models returns every inventoried model, sorted by path
func (l *Library) Models() []ModelInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ModelInfo, 0, len(l.models))
	for _, info := range l.models {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (l *Library) watchLoop() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isModelFile(event.Name) {
				continue
			}
			if err := l.reload(event.Name); err != nil {
				l.logger.Warn().Err(err).Str("path", event.Name).Msg("Model reload failed")
				continue
			}
			l.logger.Info().Str("path", event.Name).Msg("Model reloaded")
			l.eventBus.Publish(bus.Event{
				Type: bus.EventTypeAvatarAssetReload,
				Data: map[string]any{"path": event.Name},
			})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Asset watcher error")
		}
	}
}

func (l *Library) reload(path string) error {
	doc, err := gltf.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open model: %w", err)
	}

	info := InventoryDocument(doc)
	info.Path = path
	if info.Name == "" {
		info.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if len(info.MissingShapes) > 0 {
		l.logger.Debug().
			Str("path", path).
			Strs("missing", info.MissingShapes).
			Msg("Model lacks some rig channels")
	}

	l.mu.Lock()
	l.models[path] = info
	l.mu.Unlock()
	return nil
}

// InventoryDocument lists the morph targets a parsed glTF document
// exposes and which rig channels it cannot express.
func InventoryDocument(doc *gltf.Document) ModelInfo {
	info := ModelInfo{MeshCount: len(doc.Meshes)}

	seen := make(map[string]bool)
	for _, mesh := range doc.Meshes {
		if len(mesh.Primitives) == 0 {
			continue
		}
		targetCount := len(mesh.Primitives[0].Targets)
		if targetCount == 0 {
			continue
		}
		if info.Name == "" {
			info.Name = mesh.Name
		}

		names := morphTargetNames(mesh, targetCount)
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				info.MorphTargets = append(info.MorphTargets, name)
			}
		}
	}

	for i := Shape(0); i < ShapeCount; i++ {
		if !seen[ShapeNames[i]] {
			info.MissingShapes = append(info.MissingShapes, ShapeNames[i])
		}
	}
	return info
}

// morphTargetNames reads the exporter-provided target names from the
// mesh extras, falling back to positional names.
func morphTargetNames(mesh *gltf.Mesh, count int) []string {
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("target_%d", i)
	}

	extras, ok := mesh.Extras.(map[string]interface{})
	if !ok {
		return names
	}
	raw, ok := extras["targetNames"].([]interface{})
	if !ok {
		return names
	}
	for i, v := range raw {
		if i >= count {
			break
		}
		if s, ok := v.(string); ok {
			names[i] = s
		}
	}
	return names
}

func isModelFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".glb", ".gltf", ".vrm":
		return true
	default:
		return false
	}
}
