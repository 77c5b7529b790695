package vouch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Artifact is a watermarked image held on local disk while its case is open.
type Artifact struct {
	Path string

	once sync.Once
	err  error
}

func writeArtifact(dir string, data []byte) (*Artifact, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "processed-"+uuid.NewString()+".jpg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Artifact{Path: path}, nil
}

func (a *Artifact) Read() ([]byte, error) {
	return os.ReadFile(a.Path)
}

// Release deletes the backing file. Safe to call more than once.
func (a *Artifact) Release() error {
	a.once.Do(func() {
		err := os.Remove(a.Path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.err = err
		}
	})
	return a.err
}
