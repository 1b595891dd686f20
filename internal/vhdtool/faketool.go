package vhdtool

import (
	"context"
	"sync"
)

// fakeImage is the in-memory state FakeTool tracks per path.
type fakeImage struct {
	parent string // "" means root
	vsize  int64
	psize  int64
	empty  bool
}

// FakeTool is an in-memory Tool implementation for unit tests of
// internal/volume and internal/gc, so they can exercise the parent-empty
// optimization and coalesce semantics without invoking a real binary.
type FakeTool struct {
	mu     sync.Mutex
	images map[string]*fakeImage

	// ForceParentEmptyOptimization makes Snapshot behave as if the source
	// had no allocated blocks, regardless of the tracked empty flag.
	ForceParentEmptyOptimization bool
}

// NewFakeTool returns an empty FakeTool.
func NewFakeTool() *FakeTool {
	return &FakeTool{images: make(map[string]*fakeImage)}
}

// SetEmpty marks path as empty or non-empty for subsequent Snapshot calls.
func (f *FakeTool) SetEmpty(path string, empty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.images[path]; ok {
		img.empty = empty
	}
}

func (f *FakeTool) Create(_ context.Context, path string, sizeMiB int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[path] = &fakeImage{vsize: sizeMiB * 1024 * 1024, empty: true}

	return nil
}

func (f *FakeTool) Snapshot(_ context.Context, newPath, parentPath string, forceLink bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.images[parentPath]
	if !ok {
		parent = &fakeImage{empty: true}
		f.images[parentPath] = parent
	}

	resolvedParent := parentPath
	if !forceLink && (parent.empty || f.ForceParentEmptyOptimization) {
		resolvedParent = parent.parent // parent-empty optimization
	}
	f.images[newPath] = &fakeImage{parent: resolvedParent, vsize: parent.vsize, empty: true}

	return resolvedParent, nil
}

func (f *FakeTool) Coalesce(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.images[path]; !ok {
		f.images[path] = &fakeImage{}
	}

	return nil
}

func (f *FakeTool) GetParent(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[path]
	if !ok {
		return "", nil
	}

	return img.parent, nil
}

func (f *FakeTool) SetParent(_ context.Context, path, parentPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[path]
	if !ok {
		img = &fakeImage{}
		f.images[path] = img
	}
	img.parent = parentPath

	return nil
}

func (f *FakeTool) Resize(_ context.Context, path string, sizeMiB int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[path]
	if !ok {
		img = &fakeImage{}
		f.images[path] = img
	}
	img.vsize = sizeMiB * 1024 * 1024

	return nil
}

func (f *FakeTool) Reset(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.images[path]; ok {
		img.empty = true
		img.psize = 0
	}

	return nil
}

func (f *FakeTool) IsEmpty(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[path]
	if !ok {
		return true, nil
	}

	return img.empty, nil
}

func (f *FakeTool) GetVSize(_ context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.images[path]; ok {
		return img.vsize, nil
	}

	return 0, nil
}

func (f *FakeTool) GetPSize(_ context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.images[path]; ok {
		return img.psize, nil
	}

	return 0, nil
}

// MarkWritten simulates the guest writing data to path's leaf (needed so
// tests can exercise the non-empty-leaf clone path).
func (f *FakeTool) MarkWritten(path string, psize int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.images[path]; ok {
		img.empty = false
		img.psize = psize
	}
}

var _ Tool = (*FakeTool)(nil)
