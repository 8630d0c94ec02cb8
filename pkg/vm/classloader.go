package vm

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/daimatz/jtrace/pkg/classfile"
)

// ErrClassNotFound is wrapped by loaders when no definition exists for a
// name. The VM then falls back to its native JDK classes.
var ErrClassNotFound = errors.New("class not found")

// ClassLoader loads .class files by class name.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// DirClassLoader loads classes from a class path directory, delegating to
// the parent first when one is set.
type DirClassLoader struct {
	ClassPath string
	Parent    ClassLoader

	mu    sync.Mutex
	cache map[string]*classfile.ClassFile
}

// NewDirClassLoader creates a new DirClassLoader.
func NewDirClassLoader(classPath string, parent ClassLoader) *DirClassLoader {
	return &DirClassLoader{
		ClassPath: classPath,
		Parent:    parent,
		cache:     make(map[string]*classfile.ClassFile),
	}
}

func (cl *DirClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	path := filepath.Join(cl.ClassPath, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dir: %s: %w", name, ErrClassNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dir: loading %s: %w", name, err)
	}
	cl.cache[name] = cf
	return cf, nil
}

// MemoryClassLoader serves classes from in-memory class file bytes, as
// produced by classfile.Builder.
type MemoryClassLoader struct {
	mu      sync.Mutex
	classes map[string][]byte
	cache   map[string]*classfile.ClassFile
}

// NewMemoryClassLoader creates an empty MemoryClassLoader.
func NewMemoryClassLoader() *MemoryClassLoader {
	return &MemoryClassLoader{
		classes: make(map[string][]byte),
		cache:   make(map[string]*classfile.ClassFile),
	}
}

// Define registers the bytes of class name.
func (cl *MemoryClassLoader) Define(name string, data []byte) *MemoryClassLoader {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.classes[name] = data
	delete(cl.cache, name)
	return cl
}

func (cl *MemoryClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	data, ok := cl.classes[name]
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", name, ErrClassNotFound)
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("memory: parsing %s: %w", name, err)
	}
	cl.cache[name] = cf
	return cf, nil
}
