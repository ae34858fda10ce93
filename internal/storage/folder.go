package storage

import (
	"strings"
	"sync"
)

// splitFolder turns "/Backups//2024/" into ["Backups", "2024"].
func splitFolder(folder string) []string {
	var parts []string
	for _, p := range strings.Split(folder, "/") {
		p = strings.TrimSpace(p)
		if p == "" || p == "." {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// displayFolder renders parts as an absolute slash path.
func displayFolder(parts []string) string {
	return "/" + strings.Join(parts, "/")
}

// keyedMutex serializes work per key, e.g. folder creation for one destination path.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
