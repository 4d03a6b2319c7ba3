package contentsync

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weirdwool/folio/remote"
)

// memRemote is an in-memory remote store enforcing version tags.
type memRemote struct {
	mu    sync.Mutex
	files map[string][]byte

	gets, puts, deletes, commits int
	entries                      []remote.Entry

	failGet, failPut, failDelete, failCommit error
}

func newMemRemote() *memRemote {
	return &memRemote{files: map[string][]byte{}}
}

func shaOf(b []byte) string {
	return fmt.Sprintf("%x", sha1.Sum(b))
}

func (m *memRemote) Get(_ context.Context, path string) (*remote.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failGet != nil {
		return nil, m.failGet
	}
	data, ok := m.files[path]
	if !ok {
		return nil, remote.ErrNotExist
	}
	return &remote.File{Path: path, Content: append([]byte(nil), data...), SHA: shaOf(data)}, nil
}

func (m *memRemote) Put(_ context.Context, path string, content []byte, sha, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut != nil {
		return m.failPut
	}
	cur, ok := m.files[path]
	if ok && sha != shaOf(cur) {
		return errors.New("409 sha mismatch")
	}
	if !ok && sha != "" {
		return errors.New("422 sha for missing file")
	}
	m.files[path] = append([]byte(nil), content...)
	return nil
}

func (m *memRemote) Delete(_ context.Context, path, sha, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDelete != nil {
		return m.failDelete
	}
	cur, ok := m.files[path]
	if !ok {
		return errors.New("404")
	}
	if sha != shaOf(cur) {
		return errors.New("409 sha mismatch")
	}
	delete(m.files, path)
	return nil
}

func (m *memRemote) Commit(_ context.Context, _ string, entries []remote.Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.failCommit != nil {
		return "", m.failCommit
	}
	m.entries = append(m.entries, entries...)
	for _, e := range entries {
		m.files[e.Path] = e.Payload.Bytes()
	}
	return fmt.Sprintf("commit-%d", m.commits), nil
}

func (m *memRemote) calls() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

type memJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *memJournal) RecordSync(_ context.Context, e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

type fixture struct {
	root    string
	svc     *Service
	remote  *memRemote
	journal *memJournal
}

func newFixture(t *testing.T, withRemote bool) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir(), journal: &memJournal{}}
	opts := []Option{WithJournal(f.journal), WithLogger(zaptest.NewLogger(t))}
	if withRemote {
		f.remote = newMemRemote()
		opts = append(opts, WithRemote(f.remote))
	}
	f.svc = New(f.root, opts...)
	return f
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) write(t *testing.T, rel string, data []byte) {
	t.Helper()
	p := f.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func (f *fixture) read(t *testing.T, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(f.path(rel))
	require.NoError(t, err)
	return data
}

// blockDir makes rel unusable as a directory by putting a file there.
func (f *fixture) blockDir(t *testing.T, rel string) {
	t.Helper()
	f.write(t, rel, []byte("not a directory"))
}
