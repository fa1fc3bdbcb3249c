package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/geodex/geodex/internal/index"
	"github.com/geodex/geodex/internal/models"
)

func init() {
	Register("file", newLocalFS)
}

// localFS is the baseline driver: dataset documents live as files under
// a storage root and locations use the file scheme.
type localFS struct {
	root string
	idx  *index.Index
}

func newLocalFS(_ context.Context, deps Deps) (Driver, error) {
	root := os.TempDir()
	if deps.Cfg != nil && deps.Cfg.StorageRoot != "" {
		root = deps.Cfg.StorageRoot
	}

	return &localFS{
		root: root,
		idx:  index.New(deps.Pool, deps.Log),
	}, nil
}

func (l *localFS) Name() string      { return "file" }
func (l *localFS) URIScheme() string { return models.DefaultURIScheme }

func (l *localFS) RequirementsSatisfied(_ context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("storage root %q not writable: %w", l.root, err)
	}

	return nil
}

func (l *localFS) Index() *index.Index { return l.idx }

// WriteDataset stores the document under <root>/<product>/<id>.json and
// returns its file URI. The write goes through a temp file and rename
// so readers never see a partial document.
func (l *localFS) WriteDataset(_ context.Context, d *models.Dataset, body []byte) (string, error) {
	dir := l.root
	if d.Product != nil {
		dir = filepath.Join(dir, d.Product.Name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating dataset directory: %w", err)
	}

	path := filepath.Join(dir, d.ID.String()+".json")

	tmp, err := os.CreateTemp(dir, d.ID.String()+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp document: %w", err)
	}

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return "", fmt.Errorf("writing dataset document: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("closing dataset document: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("placing dataset document: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving dataset path: %w", err)
	}

	return "file://" + abs, nil
}

func (l *localFS) Datasource(d *models.Dataset) (Datasource, error) {
	for _, uri := range d.ActiveURIs() {
		if models.SchemeOf(uri) == models.DefaultURIScheme {
			return &fileSource{uri: uri}, nil
		}
	}

	return nil, fmt.Errorf("%w: dataset %s has no active file location",
		models.ErrNotFound, d.ID)
}

// AddSpecifics is a no-op: the file driver keeps no state beyond the
// catalog tables.
func (l *localFS) AddSpecifics(context.Context, *models.Dataset) error { return nil }

func (l *localFS) Close() error { return nil }

// fileSource reads one dataset document off the local filesystem.
type fileSource struct {
	uri string
}

func (f *fileSource) URI() string { return f.uri }

func (f *fileSource) Open(_ context.Context) (io.ReadCloser, error) {
	rc, err := os.Open(pathFromURI(f.uri))
	if err != nil {
		return nil, fmt.Errorf("opening dataset document: %w", err)
	}

	return rc, nil
}

// pathFromURI strips the file scheme and authority from a location URI.
func pathFromURI(uri string) string {
	path := strings.TrimPrefix(uri, "file://")
	path = strings.TrimPrefix(path, "file:")

	// file://host/path is not supported; a triple slash leaves an
	// absolute path after trimming the empty authority.
	return path
}
