package datapath

import (
	"context"
	"fmt"
	"sync"
)

// FakeTap is an in-memory Tap implementation for tests.
type FakeTap struct {
	mu      sync.Mutex
	nextID  int
	opened  map[string]string // tap id -> img path
	created map[string]bool
}

// NewFakeTap returns an empty FakeTap.
func NewFakeTap() *FakeTap {
	return &FakeTap{opened: make(map[string]string), created: make(map[string]bool)}
}

func (f *FakeTap) Create(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("tap%d", f.nextID)
	f.created[id] = true

	return id, nil
}

func (f *FakeTap) Open(_ context.Context, id, imgPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened[id] = imgPath

	return nil
}

func (f *FakeTap) Close(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.opened, id)

	return nil
}

func (f *FakeTap) Destroy(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, id)
	delete(f.opened, id)

	return nil
}

// OpenedImage returns the image path currently open on id, if any.
func (f *FakeTap) OpenedImage(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.opened[id]

	return p, ok
}

var _ Tap = (*FakeTap)(nil)
