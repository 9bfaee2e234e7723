package auth

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Store persists credential attributes by kind and realm.
type Store interface {
	// Load returns the attributes stored for kind and realm,
	// or nil if there are none.
	Load(kind, realm string) (map[string]string, error)
	Save(kind, realm string, data map[string]string) error
	Delete(kind, realm string) error
}

// Attribute names used in stored credentials.
const (
	attrUsername   = "username"
	attrPassword   = "password"
	attrPasstype   = "passtype"
	attrASCIICert  = "ascii_cert"
	attrFailures   = "failures"
	attrCertPath   = "cert_path"
	attrPassphrase = "passphrase"
	attrRealm      = "svn:realmstring"
)

// MemoryStore keeps credentials in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (s *MemoryStore) Load(kind, realm string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data[cacheKey(kind, realm)]), nil
}

func (s *MemoryStore) Save(kind, realm string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cacheKey(kind, realm)] = maps.Clone(data)
	return nil
}

func (s *MemoryStore) Delete(kind, realm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, cacheKey(kind, realm))
	return nil
}

// encodeHash writes data in the hash dump format of Subversion's
// auth area: K/V length-prefixed pairs ended by "END".
func encodeHash(data map[string]string) []byte {
	var b bytes.Buffer
	for _, k := range slices.Sorted(maps.Keys(data)) {
		v := data[k]
		fmt.Fprintf(&b, "K %d\n%s\nV %d\n%s\n", len(k), k, len(v), v)
	}
	b.WriteString("END\n")
	return b.Bytes()
}

func decodeHash(raw []byte) (map[string]string, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	readField := func(prefix string) (string, error) {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSuffix(line, "\n")
		n, err := strconv.Atoi(strings.TrimPrefix(line, prefix))
		if !strings.HasPrefix(line, prefix) || err != nil || n < 0 {
			return "", fmt.Errorf("malformed hash line %q", line)
		}
		buf := make([]byte, n+1)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		if buf[n] != '\n' {
			return "", fmt.Errorf("missing newline after %d byte field", n)
		}
		return string(buf[:n]), nil
	}

	data := make(map[string]string)
	for {
		peek, err := r.Peek(3)
		if err != nil {
			return nil, fmt.Errorf("hash dump without END")
		}
		if string(peek) == "END" {
			return data, nil
		}
		k, err := readField("K ")
		if err != nil {
			return nil, err
		}
		v, err := readField("V ")
		if err != nil {
			return nil, err
		}
		data[k] = v
	}
}
