package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

// FilePictureStore writes pictures into one directory. Paths it returns are
// file names relative to that directory.
type FilePictureStore struct {
	dir string
	now func() time.Time
}

func NewFilePictureStore(dir string) (*FilePictureStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create picture dir %s: %w", dir, err)
	}
	return &FilePictureStore{dir: dir, now: time.Now}, nil
}

// Dir is the directory pictures are written to.
func (s *FilePictureStore) Dir() string { return s.dir }

func (s *FilePictureStore) Save(ctx context.Context, img ports.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty picture")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.png", s.now().Format("20060102150405"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write picture %s: %w", path, err)
	}
	return name, nil
}

var _ ports.PictureStore = (*FilePictureStore)(nil)
