package walletengine

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	mp "github.com/vmihailenco/msgpack"
	"golang.org/x/crypto/scrypt"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
)

// blobMagic/blobVersion identify the save blob format, the same role a
// persist.Metadata Header/Version pair plays for a bolt database,
// carried here over a plain stream instead of a file.
const (
	blobMagic   = "BYTECOIN-SUB000-WALLET"
	blobVersion = 1

	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// SetStore attaches the container cache a newly registered account
// consults before falling back to an empty container, and that Stop
// flushes every account's current container into. A nil store (the
// zero value, and the default) disables the cache entirely: accounts
// always start empty and Stop writes nothing.
func (e *Engine) SetStore(store *transfers.Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
}

// loadCachedContainerLocked returns the container cached in e.store for
// spendPublic, or a fresh one if no store is attached or nothing is
// cached yet for this address.
func (e *Engine) loadCachedContainerLocked(spendPublic xcrypto.PublicKey) *transfers.Container {
	if e.store != nil {
		if c, err := e.store.LoadContainer(hex.EncodeToString(spendPublic[:])); err == nil {
			return c
		}
	}
	return transfers.NewContainer(e.spendableAge)
}

// saveContainersToStoreLocked flushes every account's current container
// into e.store, logging (rather than failing) a per-account write error
// so one bad account cannot block the rest from being cached.
func (e *Engine) saveContainersToStoreLocked() {
	if e.store == nil {
		return
	}
	for spendPublic, acc := range e.accounts {
		key := hex.EncodeToString(spendPublic[:])
		if err := e.store.SaveContainer(key, acc.container); err != nil {
			e.log.Println("walletengine: caching container for", key, "failed:", err)
		}
	}
}

// persistedAccount is one account's durable state: its keys, and
// (optionally) its container's snapshot.
type persistedAccount struct {
	SpendPublicKey xcrypto.PublicKey
	SpendSecretKey xcrypto.SecretKey
	Container      *transfers.Snapshot `msgpack:",omitempty"`
}

// persistedState is the whole of save's plaintext payload, before
// encryption.
type persistedState struct {
	ViewSecretKey xcrypto.SecretKey
	PrimarySeed   [32]byte
	NextIndex     uint64
	SpendableAge  uint64
	Policy        Policy
	Accounts      []persistedAccount
	History       []HistoryEntry `msgpack:",omitempty"`
	BlockHashes   []node.Hash    `msgpack:",omitempty"`
}

// Save writes a versioned, password-encrypted blob to w: every
// account's keys, optionally each account's container snapshot
// (includeCache) and the transaction history plus block-hash ledger
// (includeHistory).
func (e *Engine) Save(w io.Writer, password string, includeHistory, includeCache bool) error {
	e.mu.Lock()
	state := persistedState{
		ViewSecretKey: e.viewSecretKey,
		PrimarySeed:   e.primarySeed,
		NextIndex:     e.nextIndex,
		SpendableAge:  e.spendableAge,
		Policy:        e.policy,
	}
	for _, acc := range e.accounts {
		pa := persistedAccount{SpendPublicKey: acc.address.SpendPublicKey, SpendSecretKey: acc.spendSecretKey}
		if includeCache {
			snap := acc.container.Snapshot()
			pa.Container = &snap
		}
		state.Accounts = append(state.Accounts, pa)
	}
	if includeHistory {
		state.History = e.history
		state.BlockHashes = e.blockHashes
	}
	e.mu.Unlock()

	var plaintextBuf bytes.Buffer
	enc := mp.NewEncoder(&plaintextBuf).UseCompactEncoding(true)
	if err := enc.Encode(&state); err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	plaintext := plaintextBuf.Bytes()

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	header := append([]byte(blobMagic), blobVersion)
	for _, chunk := range [][]byte{header, salt, nonce, ciphertext} {
		if _, err := w.Write(chunk); err != nil {
			return walleterror.New(walleterror.InternalWalletError, err)
		}
	}
	return nil
}

// Load decrypts and replaces this engine's entire state from a stream
// written by Save. It fails if the engine already has any address
// registered, and fails with WrongPassword if the password cannot
// decrypt the blob.
func (e *Engine) Load(r io.Reader, password string) error {
	e.mu.Lock()
	alreadyInitialized := len(e.accounts) > 0
	e.mu.Unlock()
	if alreadyInitialized {
		return walleterror.New(walleterror.AlreadyInitialized, nil)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	headerLen := len(blobMagic) + 1
	if len(data) < headerLen {
		return walleterror.Newf(walleterror.InternalWalletError, "save blob truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(blobMagic)], []byte(blobMagic)) {
		return walleterror.New(walleterror.InternalWalletError, fmt.Errorf("save blob has the wrong magic header"))
	}
	if version := data[len(blobMagic)]; version != blobVersion {
		return walleterror.Newf(walleterror.InternalWalletError, "save blob version %d unsupported", version)
	}
	data = data[headerLen:]

	if len(data) < saltLen {
		return walleterror.New(walleterror.InternalWalletError, fmt.Errorf("save blob missing salt"))
	}
	salt, data := data[:saltLen], data[saltLen:]

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	if len(data) < gcm.NonceSize() {
		return walleterror.New(walleterror.InternalWalletError, fmt.Errorf("save blob missing nonce"))
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return walleterror.New(walleterror.WrongPassword, nil)
	}

	var state persistedState
	dec := mp.NewDecoder(bytes.NewReader(plaintext))
	if err := dec.Decode(&state); err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewSecretKey = state.ViewSecretKey
	e.primarySeed = state.PrimarySeed
	e.nextIndex = state.NextIndex
	e.spendableAge = state.SpendableAge
	e.policy = state.Policy
	if state.History != nil {
		e.history = state.History
	}
	if state.BlockHashes != nil {
		e.blockHashes = state.BlockHashes
	}
	for _, pa := range state.Accounts {
		var container *transfers.Container
		if pa.Container != nil {
			container = transfers.LoadSnapshot(*pa.Container)
		} else {
			container = transfers.NewContainer(e.spendableAge)
		}
		if _, err := e.restoreAccountLocked(pa.SpendPublicKey, pa.SpendSecretKey, container); err != nil {
			return err
		}
	}
	return nil
}
