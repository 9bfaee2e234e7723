package auth

import (
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/spf13/afero"
)

func TestHashDump(t *testing.T) {
	data := map[string]string{
		"username":        "harry",
		"password":        "line1\nline2",
		"svn:realmstring": "<svn://localhost:3690> test",
	}
	raw := encodeHash(data)
	assert.Equal(t, string(raw[:9]), "K 8\npassw")
	got, err := decodeHash(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, got, data)

	for _, bad := range []string{"", "K 3\nabc\n", "K x\n", "K 8\nshort\nV 0\n\nEND\n"} {
		_, err := decodeHash([]byte(bad))
		assert.NotEqual(t, err, nil)
	}
}

func testStore(t *testing.T, s Store) {
	data, err := s.Load(KindUsername, "realm")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(data), 0)

	assert.Equal(t, s.Save(KindUsername, "realm", map[string]string{"username": "a"}), nil)
	assert.Equal(t, s.Save(KindUsername, "other", map[string]string{"username": "b"}), nil)
	assert.Equal(t, s.Save(KindUsername, "realm", map[string]string{"username": "c"}), nil)

	data, err = s.Load(KindUsername, "realm")
	assert.Equal(t, err, nil)
	assert.Equal(t, data, map[string]string{"username": "c"})

	assert.Equal(t, s.Delete(KindUsername, "realm"), nil)
	assert.Equal(t, s.Delete(KindUsername, "realm"), nil)
	data, _ = s.Load(KindUsername, "realm")
	assert.Equal(t, len(data), 0)
	data, _ = s.Load(KindUsername, "other")
	assert.Equal(t, data["username"], "b")
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/cfg")
	testStore(t, s)

	assert.Equal(t, s.Save(KindSimple, "r", map[string]string{"username": "u"}), nil)
	// md5("r")
	p := filepath.Join("/cfg", "auth", KindSimple, "4b43b0aee35624cd95b910189b3dc231")
	fi, err := fs.Stat(p)
	assert.Equal(t, err, nil)
	assert.Equal(t, fi.Mode().Perm().String(), "-rw-------")
	raw, _ := afero.ReadFile(fs, p)
	assert.Equal(t, string(raw), "K 15\nsvn:realmstring\nV 1\nr\nK 8\nusername\nV 1\nu\nEND\n")
}

func TestFileStoreRealmMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/cfg")
	assert.Equal(t, s.Save(KindSimple, "a", map[string]string{"username": "u"}), nil)
	raw, _ := afero.ReadFile(fs, s.path(KindSimple, "a"))
	assert.Equal(t, afero.WriteFile(fs, s.path(KindSimple, "b"), raw, 0o600), nil)
	data, err := s.Load(KindSimple, "b")
	assert.Equal(t, err, nil)
	assert.Equal(t, data == nil, true)
}

func TestSQLStore(t *testing.T) {
	s, err := OpenSQLStore(":memory:")
	assert.Equal(t, err, nil)
	defer s.Close()
	testStore(t, s)
}
