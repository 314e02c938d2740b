package transfers

import (
	"github.com/asdine/storm"
	stormmsgpack "github.com/asdine/storm/codec/msgpack"
)

const containersBucket = "Containers"

// storedContainer is the storm record one account's container snapshot
// is kept under, keyed by the hex-encoded spend public key the wallet
// engine already uses to identify an account.
type storedContainer struct {
	SpendPublicKeyHex string `storm:"id"`
	Snapshot          Snapshot
}

// Store is an embedded, on-disk cache of every account's container
// state, independent of the wallet engine's own password-encrypted
// save/load blob (an optional, independent "cache" persistence): a
// container can be restored from Store without decrypting anything, at
// the cost of a resync if Store is stale or missing.
type Store struct {
	db *storm.DB
}

// OpenStore opens (creating if necessary) a container store at path.
func OpenStore(path string) (*Store, error) {
	db, err := storm.Open(path, storm.Codec(stormmsgpack.Codec))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveContainer persists c's current state under spendPublicKeyHex,
// overwriting any previous snapshot for that account.
func (s *Store) SaveContainer(spendPublicKeyHex string, c *Container) error {
	return s.db.From(containersBucket).Save(&storedContainer{
		SpendPublicKeyHex: spendPublicKeyHex,
		Snapshot:          c.Snapshot(),
	})
}

// LoadContainer returns the container cached for spendPublicKeyHex, or
// storm.ErrNotFound if nothing has been saved for it yet.
func (s *Store) LoadContainer(spendPublicKeyHex string) (*Container, error) {
	var rec storedContainer
	if err := s.db.From(containersBucket).One("SpendPublicKeyHex", spendPublicKeyHex, &rec); err != nil {
		return nil, err
	}
	return LoadSnapshot(rec.Snapshot), nil
}

// DeleteContainer drops a cached snapshot, e.g. when DeleteAddress
// removes the account it belonged to.
func (s *Store) DeleteContainer(spendPublicKeyHex string) error {
	err := s.db.From(containersBucket).DeleteStruct(&storedContainer{SpendPublicKeyHex: spendPublicKeyHex})
	if err == storm.ErrNotFound {
		return nil
	}
	return err
}
