package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// memFS is an in-memory provider tree shared by every session a memDialer opens.
type memFS struct {
	mu     sync.Mutex
	nodes  map[string]*memNode
	nextID int
	now    time.Time

	mkdirs      int
	dials       int
	closes      int
	mkdirErr    error
	uploadSize  int64 // reported size override; -1 reports the bytes read
	hangUploads bool
	hangLists   bool
	failDeletes map[string]bool
}

type memNode struct {
	id       string
	name     string
	dir      bool
	size     int64
	mod      time.Time
	parent   string
	children []string
}

func newMemFS(now time.Time) *memFS {
	fs := &memFS{
		nodes:       map[string]*memNode{"root": {id: "root", dir: true}},
		now:         now,
		uploadSize:  -1,
		failDeletes: map[string]bool{},
	}
	return fs
}

func (fs *memFS) add(parentID, name string, dir bool, size int64, mod time.Time) string {
	fs.nextID++
	id := fmt.Sprintf("n%d", fs.nextID)
	fs.nodes[id] = &memNode{id: id, name: name, dir: dir, size: size, mod: mod, parent: parentID}
	p := fs.nodes[parentID]
	p.children = append(p.children, id)
	return id
}

// mkdirAll creates the folder path and returns its id.
func (fs *memFS) mkdirAll(path string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := "root"
	for _, part := range splitFolder(path) {
		found := ""
		for _, c := range fs.nodes[id].children {
			if fs.nodes[c].dir && fs.nodes[c].name == part {
				found = c
				break
			}
		}
		if found == "" {
			found = fs.add(id, part, true, 0, time.Time{})
		}
		id = found
	}
	return id
}

func (fs *memFS) putFile(folderID, name string, mod time.Time) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.add(folderID, name, false, 1, mod)
}

// names lists the names of the direct children of id.
func (fs *memFS) names(id string) []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []string
	for _, c := range fs.nodes[id].children {
		out = append(out, fs.nodes[c].name)
	}
	return out
}

func (fs *memFS) lookup(path string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := "root"
	for _, part := range splitFolder(path) {
		found := ""
		for _, c := range fs.nodes[id].children {
			if fs.nodes[c].dir && strings.EqualFold(fs.nodes[c].name, part) {
				found = c
				break
			}
		}
		if found == "" {
			return "", false
		}
		id = found
	}
	return id, true
}

type memDialer struct {
	fs      *memFS
	dialErr error
	hang    bool // Dial blocks until ctx ends, like a stalled handshake
	checkFn func(Config) error
}

func (d *memDialer) CheckConfig(cfg Config) error {
	if d.checkFn != nil {
		return d.checkFn(cfg)
	}
	return nil
}

func (d *memDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	d.fs.mu.Lock()
	d.fs.dials++
	d.fs.mu.Unlock()
	if d.hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &memSession{fs: d.fs}, nil
}

type memSession struct {
	fs *memFS
}

func (s *memSession) node(n *memNode) Node {
	return Node{Handle: n.id, Name: n.name, IsDir: n.dir, Size: n.size, ModTime: n.mod}
}

func (s *memSession) Root() Node {
	return Node{Handle: "root", IsDir: true}
}

func (s *memSession) Children(ctx context.Context, parent Node) ([]Node, error) {
	s.fs.mu.Lock()
	hang := s.fs.hangLists
	s.fs.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	p, ok := s.fs.nodes[parent.Handle]
	if !ok {
		return nil, errors.New("no such folder")
	}
	out := make([]Node, 0, len(p.children))
	for _, c := range p.children {
		out = append(out, s.node(s.fs.nodes[c]))
	}
	return out, nil
}

func (s *memSession) Mkdir(ctx context.Context, parent Node, name string) (Node, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	if s.fs.mkdirErr != nil {
		return Node{}, s.fs.mkdirErr
	}
	s.fs.mkdirs++
	id := s.fs.add(parent.Handle, name, true, 0, time.Time{})
	return s.node(s.fs.nodes[id]), nil
}

func (s *memSession) Upload(ctx context.Context, parent Node, name string, size int64, body io.Reader) (int64, error) {
	s.fs.mu.Lock()
	hang := s.fs.hangUploads
	s.fs.mu.Unlock()
	if hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}

	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	s.fs.add(parent.Handle, name, false, int64(len(data)), s.fs.now)
	if s.fs.uploadSize >= 0 {
		return s.fs.uploadSize, nil
	}
	return int64(len(data)), nil
}

func (s *memSession) Delete(ctx context.Context, node Node) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	n, ok := s.fs.nodes[node.Handle]
	if !ok {
		return errors.New("not found")
	}
	if s.fs.failDeletes[n.name] {
		return errors.New("permission denied")
	}
	p := s.fs.nodes[n.parent]
	for i, c := range p.children {
		if c == n.id {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	delete(s.fs.nodes, n.id)
	return nil
}

func (s *memSession) Close() error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	s.fs.closes++
	return nil
}
