package server

import (
	"io/fs"
	"net/http"
	"path"
)

// noListingFS serves files and directory indexes but never generates a
// directory listing. A directory without index.html looks missing.
type noListingFS struct {
	fs http.FileSystem
}

// Open opens name, refusing directories that have no index.html.
func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}

	index, err := n.fs.Open(path.Join(name, "index.html"))
	if err != nil {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	_ = index.Close()
	return f, nil
}
