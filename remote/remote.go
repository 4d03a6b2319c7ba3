// Package remote implements the version-controlled repository that backs the
// site's content. Every write to an existing path needs the version tag
// (blob SHA) obtained from a fresh read of that path.
package remote

import "errors"

// ErrNotExist is returned by Get when the path is absent from the repository.
var ErrNotExist = errors.New("remote: file does not exist")

// File is a file read from the repository.
type File struct {
	Path string
	// Content is nil when the repository declined to inline a large file.
	Content []byte
	SHA     string
}

// Payload is the content of one file in a batch commit: either Text or
// Binary. Each kind is encoded exactly once, by the store.
type Payload interface {
	Bytes() []byte
	payload()
}

// Text is UTF-8 file content, sent as is.
type Text string

// Binary is raw file content, base64-encoded by the store.
type Binary []byte

func (t Text) Bytes() []byte   { return []byte(t) }
func (b Binary) Bytes() []byte { return []byte(b) }

func (Text) payload()   {}
func (Binary) payload() {}

// Entry is one file of a batch commit.
type Entry struct {
	Path    string
	Payload Payload
}
