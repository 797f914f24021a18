package driver_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudsyncd/pcloudfs/api"
)

const timeFormat = "Mon, 02 Jan 2006 15:04:05 -0700"

// fakeEntry is one node of the fake provider's tree.
type fakeEntry struct {
	name     string
	id       int64
	isDir    bool
	content  []byte
	created  time.Time
	modified time.Time
	parent   *fakeEntry
	children map[string]*fakeEntry
}

// fakeProvider is an in-memory pCloud lookalike behind an httptest server.
// It counts invocations per command so tests can assert how many calls an
// operation issued.
type fakeProvider struct {
	mu     sync.Mutex
	root   *fakeEntry
	nextID int64
	nextFD int64
	fds    map[int64]*fakeEntry
	calls  map[string]int
	clock  time.Time
	srv    *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	base := time.Date(2024, 3, 21, 10, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		root:   &fakeEntry{isDir: true, created: base, modified: base, children: map[string]*fakeEntry{}},
		nextID: 100,
		fds:    map[int64]*fakeEntry{},
		calls:  map[string]int{},
		clock:  base,
	}
	p.srv = httptest.NewServer(p)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) url() string { return p.srv.URL }

func (p *fakeProvider) count(cmd string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[cmd]
}

// tick advances the fake clock far enough that the provider's second-granular
// date format observes the change.
func (p *fakeProvider) tick() time.Time {
	p.clock = p.clock.Add(2 * time.Second)
	return p.clock
}

func (p *fakeProvider) lookup(pth string) (*fakeEntry, bool) {
	if pth == "" || pth == "/" {
		return p.root, true
	}
	cur := p.root
	for _, part := range strings.Split(strings.Trim(pth, "/"), "/") {
		next, ok := cur.children[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (p *fakeProvider) byID(id int64) *fakeEntry {
	var find func(e *fakeEntry) *fakeEntry
	find = func(e *fakeEntry) *fakeEntry {
		if e.id == id && e.isDir {
			return e
		}
		for _, child := range e.children {
			if found := find(child); found != nil {
				return found
			}
		}
		return nil
	}
	return find(p.root)
}

func (p *fakeProvider) addChild(parent *fakeEntry, name string, isDir bool) *fakeEntry {
	p.nextID++
	now := p.tick()
	e := &fakeEntry{
		name:     name,
		id:       p.nextID,
		isDir:    isDir,
		created:  now,
		modified: now,
		parent:   parent,
		children: map[string]*fakeEntry{},
	}
	parent.children[name] = e
	return e
}

// meta renders an entry the way the provider would. depth limits how many
// levels of contents are included: 0 none, negative unbounded.
func (p *fakeProvider) meta(e *fakeEntry, depth int, nofiles bool) api.Metadata {
	m := api.Metadata{
		Name:     e.name,
		IsFolder: e.isDir,
		Created:  e.created.Format(timeFormat),
		Modified: e.modified.Format(timeFormat),
	}
	if e.parent != nil {
		m.ParentFolderID = e.parent.id
	}
	if !e.isDir {
		m.FileID = e.id
		m.Size = int64(len(e.content))
		return m
	}
	m.FolderID = e.id
	if depth != 0 {
		names := make([]string, 0, len(e.children))
		for name := range e.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := e.children[name]
			if nofiles && !child.isDir {
				continue
			}
			m.Contents = append(m.Contents, p.meta(child, depth-1, nofiles))
		}
	}
	return m
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, code int) {
	writeJSON(w, map[string]int{"result": code})
}

func writeMeta(w http.ResponseWriter, m api.Metadata) {
	writeJSON(w, api.MetadataResult{Result: api.ResultOK, Metadata: &m})
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := strings.TrimPrefix(r.URL.Path, "/")
	p.calls[cmd]++
	q := r.URL.Query()

	switch cmd {
	case "listfolder":
		e, ok := p.lookup(q.Get("path"))
		if !ok || !e.isDir {
			writeResult(w, api.CodeDirNotFound)
			return
		}
		depth := -1
		if q.Get("recursive") == "0" {
			depth = 1
		}
		writeMeta(w, p.meta(e, depth, q.Get("nofiles") == "1"))

	case "stat":
		e, ok := p.lookup(q.Get("path"))
		if !ok {
			writeResult(w, api.CodeFileNotFound)
			return
		}
		writeMeta(w, p.meta(e, 0, false))

	case "createfolderifnotexists":
		id, _ := strconv.ParseInt(q.Get("folderid"), 10, 64)
		parent := p.byID(id)
		if parent == nil {
			writeResult(w, api.CodeDirNotFound)
			return
		}
		name := q.Get("name")
		if existing, ok := parent.children[name]; ok {
			if !existing.isDir {
				writeResult(w, api.CodeAlreadyExists)
				return
			}
			writeMeta(w, p.meta(existing, 0, false))
			return
		}
		writeMeta(w, p.meta(p.addChild(parent, name, true), 0, false))

	case "file_open":
		flags, _ := strconv.Atoi(q.Get("flags"))
		pth := q.Get("path")
		e, ok := p.lookup(pth)
		if !ok {
			if flags&0x0040 == 0 {
				writeResult(w, api.CodeFileNotFound)
				return
			}
			parent, pok := p.lookup(path.Dir(pth))
			if !pok || !parent.isDir {
				writeResult(w, api.CodeParentNotFound)
				return
			}
			e = p.addChild(parent, path.Base(pth), false)
		}
		if e.isDir {
			writeResult(w, api.CodeFileNotFound)
			return
		}
		p.nextFD++
		p.fds[p.nextFD] = e
		writeJSON(w, map[string]int64{"result": 0, "fd": p.nextFD})

	case "file_size":
		fd, _ := strconv.ParseInt(q.Get("fd"), 10, 64)
		e, ok := p.fds[fd]
		if !ok {
			writeResult(w, api.CodeFileNotFound)
			return
		}
		writeJSON(w, map[string]int64{"result": 0, "size": int64(len(e.content))})

	case "file_read":
		fd, _ := strconv.ParseInt(q.Get("fd"), 10, 64)
		e, ok := p.fds[fd]
		if !ok {
			writeResult(w, api.CodeFileNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(e.content)

	case "file_write":
		fd, _ := strconv.ParseInt(q.Get("fd"), 10, 64)
		e, ok := p.fds[fd]
		if !ok {
			writeResult(w, api.CodeFileNotFound)
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeResult(w, api.CodeInternalError)
			return
		}
		e.content = raw
		e.modified = p.tick()
		writeJSON(w, map[string]int64{"result": 0, "bytes": int64(len(raw))})

	case "file_close":
		fd, _ := strconv.ParseInt(q.Get("fd"), 10, 64)
		delete(p.fds, fd)
		writeResult(w, api.ResultOK)

	case "uploadfile":
		id, _ := strconv.ParseInt(q.Get("folderid"), 10, 64)
		parent := p.byID(id)
		if parent == nil {
			writeResult(w, api.CodeDirNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeResult(w, api.CodeUploadError)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			writeResult(w, api.CodeUploadError)
			return
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			writeResult(w, api.CodeUploadError)
			return
		}
		name := q.Get("filename")
		e, ok := parent.children[name]
		if !ok {
			e = p.addChild(parent, name, false)
		}
		e.content = raw
		e.modified = p.tick()
		writeMeta(w, p.meta(e, 0, false))

	case "deletefile":
		e, ok := p.lookup(q.Get("path"))
		if !ok {
			// the deletefile command reports missing items in-band,
			// with an OK transport status
			writeResult(w, api.CodeFileNotFound)
			return
		}
		delete(e.parent.children, e.name)
		m := p.meta(e, 0, false)
		m.IsDeleted = true
		writeMeta(w, m)

	case "getfile":
		e, ok := p.lookup(q.Get("path"))
		if !ok || e.isDir {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":"file not found"}}`, api.CodeFileNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(e.content)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"unknown command %s"}}`, api.CodeInvalidPath, cmd)
	}
}
