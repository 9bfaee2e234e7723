package auth

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	svn "github.com/cespedes/svnra"
)

// FileStore keeps credentials in files under <dir>/auth/<kind>/, one per
// realm, named after the MD5 of the realm string.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore returns a FileStore rooted at the configuration directory
// dir of fs.
func NewFileStore(fs afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fs, dir: dir}
}

func (s *FileStore) path(kind, realm string) string {
	sum := md5.Sum([]byte(realm))
	return filepath.Join(s.dir, "auth", kind, hex.EncodeToString(sum[:]))
}

func (s *FileStore) Load(kind, realm string) (map[string]string, error) {
	raw, err := afero.ReadFile(s.fs, s.path(kind, realm))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, svn.Wrap(err, 0, "reading %s credentials", kind)
	}
	data, err := decodeHash(raw)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeMalformedFile, "malformed %s credentials file", kind)
	}
	// Guard against MD5 collisions and files copied around.
	if data[attrRealm] != realm {
		return nil, nil
	}
	delete(data, attrRealm)
	return data, nil
}

func (s *FileStore) Save(kind, realm string, data map[string]string) error {
	p := s.path(kind, realm)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[attrRealm] = realm
	return afero.WriteFile(s.fs, p, encodeHash(out), 0o600)
}

func (s *FileStore) Delete(kind, realm string) error {
	err := s.fs.Remove(s.path(kind, realm))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
