package assets

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/sanity/engine/assets/loaders"
	"github.com/spaghettifunk/sanity/engine/core"
)

var ErrShaderNotFound = errors.New("shader not found")

type ShaderInfo struct {
	Name       string
	Path       string
	Size       uint64
	Version    uint64
	LastLoaded time.Time
}

type shaderEntry struct {
	info ShaderInfo
	data []byte
}

// ReloadFunc is called after a shader blob changed on disk.
type ReloadFunc func(name string, version uint64)

// ShaderLibrary keeps precompiled shader bytecode in memory, keyed by name.
// With hot reload enabled the directory is watched and changed blobs are
// re-read, bumping their version.
type ShaderLibrary struct {
	dir     string
	shaders map[string]*shaderEntry
	loaders map[string]Loader

	mutex     sync.RWMutex
	listeners []ReloadFunc

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func newShaderLibrary(dir string) *ShaderLibrary {
	sl := &ShaderLibrary{
		dir:     dir,
		shaders: make(map[string]*shaderEntry),
		loaders: make(map[string]Loader),
	}
	sl.registerLoader(&loaders.ShaderLoader{})
	sl.registerLoader(&loaders.TextureLoader{})
	return sl
}

// NewMemoryShaderLibrary returns an empty library that is filled with Put.
func NewMemoryShaderLibrary() *ShaderLibrary {
	return newShaderLibrary("")
}

// NewShaderLibrary loads every *.spv under dir. A missing directory yields an
// empty library.
func NewShaderLibrary(dir string, hotReload bool) (*ShaderLibrary, error) {
	sl := newShaderLibrary(dir)

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		core.LogWarn("shader directory %s does not exist, starting with an empty library", dir)
		return sl, nil
	}

	if hotReload {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		sl.fsnotify = fsWatch
		sl.done = make(chan struct{})
		sl.stopped = make(chan struct{})
		go sl.start()
	}

	if err := sl.watchRecursive(dir); err != nil {
		_ = sl.Close()
		return nil, err
	}
	core.LogInfo("shader library loaded %d shaders from %s (hot reload: %t)", len(sl.shaders), dir, hotReload)
	return sl, nil
}

// NewShaderLibraryFromSettings reads the [shaders] table.
func NewShaderLibraryFromSettings(s *core.Settings) (*ShaderLibrary, error) {
	return NewShaderLibrary(s.Shaders.Directory, s.Shaders.HotReload)
}

func (sl *ShaderLibrary) registerLoader(loader Loader) {
	for _, ext := range loader.Extensions() {
		sl.loaders[ext] = loader
	}
}

// OnReload registers fn for every later reload.
func (sl *ShaderLibrary) OnReload(fn ReloadFunc) {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	sl.listeners = append(sl.listeners, fn)
}

// Get returns the bytecode of name. The slice must not be modified.
func (sl *ShaderLibrary) Get(name string) ([]byte, error) {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	e, ok := sl.shaders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", core.ErrConfiguration, ErrShaderNotFound, name)
	}
	return e.data, nil
}

func (sl *ShaderLibrary) Info(name string) (ShaderInfo, bool) {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	e, ok := sl.shaders[name]
	if !ok {
		return ShaderInfo{}, false
	}
	return e.info, true
}

func (sl *ShaderLibrary) Names() []string {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	names := make([]string, 0, len(sl.shaders))
	for n := range sl.shaders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Put stores a blob that did not come from disk.
func (sl *ShaderLibrary) Put(name string, data []byte) {
	sl.store(name, "", data)
}

// LoadTexture decodes an image file with the registered texture loader.
func (sl *ShaderLibrary) LoadTexture(path string) (image.Image, error) {
	loader, ok := sl.loaders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("%w: no loader registered for %s", core.ErrConfiguration, path)
	}
	if _, isShader := loader.(*loaders.ShaderLoader); isShader {
		return nil, fmt.Errorf("%w: %s is not a texture", core.ErrConfiguration, path)
	}
	res, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	return res.Data.(image.Image), nil
}

func (sl *ShaderLibrary) store(name, path string, data []byte) uint64 {
	sl.mutex.Lock()
	e, ok := sl.shaders[name]
	if !ok {
		e = &shaderEntry{}
		sl.shaders[name] = e
	}
	e.data = data
	e.info = ShaderInfo{
		Name:       name,
		Path:       path,
		Size:       uint64(len(data)),
		Version:    e.info.Version + 1,
		LastLoaded: time.Now(),
	}
	version := e.info.Version
	listeners := append([]ReloadFunc(nil), sl.listeners...)
	sl.mutex.Unlock()

	if version > 1 {
		for _, fn := range listeners {
			fn(name, version)
		}
	}
	return version
}

func (sl *ShaderLibrary) loadFile(path string) {
	if filepath.Ext(path) != loaders.ShaderExtension {
		return
	}
	res, err := sl.loaders[loaders.ShaderExtension].Load(path)
	if err != nil {
		// editors often truncate before writing, the next Write event retries
		core.LogWarn("cannot load shader %s: %s", path, err)
		return
	}
	v := sl.store(res.Name, path, res.Data.([]byte))
	core.LogDebug("shader %s loaded from %s (version %d)", res.Name, path, v)
}

func (sl *ShaderLibrary) removeFile(path string) {
	if filepath.Ext(path) != loaders.ShaderExtension {
		return
	}
	name := loaders.ShaderName(path)
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	if e, ok := sl.shaders[name]; ok && e.info.Path == path {
		delete(sl.shaders, name)
		core.LogInfo("shader %s removed", name)
	}
}

func (sl *ShaderLibrary) start() {
	defer close(sl.stopped)
	for {
		select {
		case e, ok := <-sl.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := sl.watchRecursive(e.Name); err != nil {
						core.LogError("cannot watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sl.loadFile(e.Name)
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				sl.removeFile(e.Name)
			}

		case err, ok := <-sl.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err)

		case <-sl.done:
			return
		}
	}
}

// watchRecursive loads every blob under path and, when watching, adds each
// directory to the watch list.
func (sl *ShaderLibrary) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if sl.fsnotify != nil {
				return sl.fsnotify.Add(walkPath)
			}
			return nil
		}
		sl.loadFile(walkPath)
		return nil
	})
}

// Close stops the watcher. Blobs already loaded stay readable.
func (sl *ShaderLibrary) Close() error {
	sl.mutex.Lock()
	if sl.isClosed || sl.fsnotify == nil {
		sl.isClosed = true
		sl.mutex.Unlock()
		return nil
	}
	sl.isClosed = true
	sl.mutex.Unlock()

	close(sl.done)
	err := sl.fsnotify.Close()
	<-sl.stopped
	return err
}
