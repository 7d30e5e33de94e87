package manifest

import (
	"github.com/talariadb/casg/kv"
)

const manifestCF = "manifest_versions"

// Encoder/Decoder are implemented by manifest/codec, kept as an interface
// here so this package does not import its own codec subpackage (which
// imports Manifest) and create a cycle.
type Encoder func(*Manifest) ([]byte, error)
type Decoder func([]byte) (*Manifest, error)

// Store persists manifests to the manifest_versions column family under
// their StorageKey.
type Store struct {
	kv      *kv.Store
	encode  Encoder
	decode  Decoder
}

// NewStore wraps kvStore as a manifest store, using encode/decode
// (typically manifest/codec.Encode / manifest/codec.Decode) for the wire
// format.
func NewStore(kvStore *kv.Store, encode Encoder, decode Decoder) *Store {
	return &Store{kv: kvStore, encode: encode, decode: decode}
}

// Save writes m under its StorageKey.
func (s *Store) Save(m *Manifest) error {
	data, err := s.encode(m)
	if err != nil {
		return err
	}
	return s.kv.Put(manifestCF, []byte(m.StorageKey()), data)
}

// Load reads the manifest stored under key.
func (s *Store) Load(key string) (*Manifest, error) {
	data, err := s.kv.Get(manifestCF, []byte(key))
	if err != nil {
		return nil, err
	}
	return s.decode(data)
}

// ListKeys iterates every stored manifest key with the given prefix
// (typically "manifest:{source}:" to list a database's versions).
func (s *Store) ListKeys(prefix string) ([]string, error) {
	var keys []string
	err := s.kv.PrefixIter(manifestCF, []byte(prefix), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	return keys, err
}
