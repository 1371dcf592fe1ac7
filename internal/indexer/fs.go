package indexer

import "os"

// DirEntry is the minimal per-entry info the planner needs.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FS abstracts the filesystem the managed root lives on, so tests can run
// the full plan→process pipeline against an in-memory tree instead of real
// disk.
type FS interface {
	ReadDir(path string) ([]DirEntry, error)
	ReadFile(path string) ([]byte, error)
	Stat(path string) (size int64, mtimeUnix int64, err error)
}

// OSFS is the production FS backed by the os package.
type OSFS struct{}

func (OSFS) ReadDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFS) Stat(path string) (int64, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return info.Size(), info.ModTime().Unix(), nil
}
