package poingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karlseguin/typed"
)

// PageArchiver writes raw fetched pages to disk as JSON, one file per page,
// for audit and replay. Optional: the pipeline skips archiving when none is
// configured.
type PageArchiver struct {
	dir string
}

// NewPageArchiver create a PageArchiver rooted at dir, creating it if needed.
func NewPageArchiver(dir string) (*PageArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewIngestError(ErrCodeConfig, "create archive dir:%v failed", dir, err)
	}
	return &PageArchiver{dir: dir}, nil
}

// SavePage persists the raw items of one page and returns the file path.
func (a *PageArchiver) SavePage(ctx context.Context, label string, offset int, items []typed.Typed) (string, error) {
	name := fmt.Sprintf("%s_offset_%08d.json", label, offset)
	path := filepath.Join(a.dir, name)
	data, err := json.Marshal(items)
	if err != nil {
		return "", NewIngestError(ErrCodeGeneral, "marshal page for archive failed, offset:%v", offset, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", NewIngestError(ErrCodeGeneral, "write archive file:%v failed", path, err)
	}
	DefaultLogger.Debug(ctx, "archived raw page, file:%v, items:%v", name, len(items))
	return path, nil
}
