package artifacts

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileProvider reads artifact sets from a directory.
type FileProvider struct {
	Dir string
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

func (p *FileProvider) Load(ctx context.Context, name string) (*Artifacts, error) {
	a := &Artifacts{Name: name}
	found := 0
	for _, ext := range []string{ExtCCS, ExtProvingKey, ExtVerifyingKey} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(p.Dir, name+ext)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		err = decode(ext, f, a)
		f.Close()
		if err != nil {
			return nil, err
		}
		found++
	}
	if found == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s in %s", name, p.Dir)
	}
	return a, nil
}
