package filex

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot holds the content a set of files had when it was taken, so a
// multi-file update can be rolled back.
type Snapshot struct {
	files []fileState
}

type fileState struct {
	path    string
	data    []byte
	existed bool
}

// TakeSnapshot records the current content of paths. A missing file is
// recorded as absent.
func TakeSnapshot(paths ...string) (*Snapshot, error) {
	s := &Snapshot{}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		switch {
		case err == nil:
			s.files = append(s.files, fileState{path: p, data: b, existed: true})
		case errors.Is(err, os.ErrNotExist):
			s.files = append(s.files, fileState{path: p})
		default:
			return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(p), err)
		}
	}
	return s, nil
}

// Restore puts every recorded file back: present files get their old
// content with PrivateFileMode, absent ones are removed. Files that still
// match the snapshot are not touched. Every file is attempted and the
// failures are joined.
func (s *Snapshot) Restore() error {
	var errs []error
	for _, f := range s.files {
		cur, err := os.ReadFile(f.path)
		if f.existed && err == nil && bytes.Equal(cur, f.data) {
			continue
		}
		if !f.existed && errors.Is(err, os.ErrNotExist) {
			continue
		}

		if f.existed {
			err = WriteFileAtomic(f.path, f.data, PrivateFileMode)
		} else {
			err = RemoveIfExists(f.path)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", filepath.Base(f.path), err))
		}
	}
	return errors.Join(errs...)
}
