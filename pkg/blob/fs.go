package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/snapgate/snapgate/pkg/presign"
)

// FSStore stores blobs under a local directory root. Presigned reads
// are synthesized with the presign codec against the public URL path
// the root is served under (the /static/ route).
type FSStore struct {
	root         string
	publicPrefix string
	accessToken  string
}

// NewFSStore creates the root directory if needed. publicPrefix is
// the URL path prefix under which root is served, e.g. "/static".
func NewFSStore(root, publicPrefix, accessToken string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure blob root: %w", err)
	}
	return &FSStore{
		root:         root,
		publicPrefix: strings.TrimSuffix(publicPrefix, "/"),
		accessToken:  accessToken,
	}, nil
}

// resolve maps a store path onto the filesystem, refusing traversal
// out of the root.
func (s *FSStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("blob: empty path")
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FSStore) Exists(_ context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FSStore) Stat(_ context.Context, p string) (Info, error) {
	full, err := s.resolve(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotExist
		}
		return Info{}, err
	}
	return Info{
		LastModified: fi.ModTime().Truncate(time.Second),
		Size:         fi.Size(),
	}, nil
}

// Write lands the bytes in a temp file next to the target and renames
// it into place, so readers never observe a partial object.
func (s *FSStore) Write(_ context.Context, p string, data []byte) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod blob: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

func (s *FSStore) Read(_ context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

// PresignRead signs the public path of the object with the bucket
// access token. The codec carries its own fixed expiry; ttl is
// accepted for interface symmetry with remote backends.
func (s *FSStore) PresignRead(_ context.Context, p string, _ time.Duration) (string, error) {
	public := s.publicPrefix + path.Clean("/"+p)
	return presign.Sign(public, s.accessToken).String(), nil
}
