package tasks

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"lapscreen/internal/imageio"
)

// FillCache holds replacement screen images for the duration of a batch.
// Each path is decoded once; the Mats are shared read-only between workers
// and released by Close.
type FillCache struct {
	mu     sync.Mutex
	images map[string]gocv.Mat
	errs   map[string]error
}

func NewFillCache() *FillCache {
	return &FillCache{images: map[string]gocv.Mat{}, errs: map[string]error{}}
}

// Get returns the decoded image at path. Callers must not Close it.
func (c *FillCache) Get(path string) (gocv.Mat, error) {
	if path == "" {
		return gocv.Mat{}, fmt.Errorf("fill image not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.images[path]; ok {
		return m, nil
	}
	if err, ok := c.errs[path]; ok {
		return gocv.Mat{}, err
	}
	m, err := imageio.Load(path)
	if err != nil {
		err = fmt.Errorf("load fill image: %w", err)
		c.errs[path] = err
		return gocv.Mat{}, err
	}
	c.images[path] = m
	return m, nil
}

// Len reports how many images are cached.
func (c *FillCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Close releases every cached image.
func (c *FillCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, m := range c.images {
		m.Close()
		delete(c.images, path)
	}
	return nil
}
