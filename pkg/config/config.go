// Package config loads the TOML file that drives a wallet core process:
// which node to talk to, where to keep persistent state, the sync
// tunables a freshly registered subscription starts from, and the
// fusion/fee policy constants internal/walletengine otherwise only knows
// as compiled-in defaults. It is modeled on rivine's own
// pkg/daemon.Config/DefaultConfig shape, adapted to read from a TOML
// document (github.com/pelletier/go-toml) instead of being assembled
// purely from flags.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/spf13/pflag"

	"github.com/amjuarez/bytecoin-sub000/internal/walletengine"
)

// NodeConfig describes the blockchain node this wallet core talks to.
type NodeConfig struct {
	// Endpoint is the address of the node RPC server, e.g. "127.0.0.1:8081".
	// internal/node implementations other than node.StubNode dial this.
	Endpoint string `toml:"endpoint"`
}

// PersistenceConfig describes where this wallet core keeps its state on
// disk.
type PersistenceConfig struct {
	// Directory is the parent directory for the storm/bbolt container
	// cache (internal/transfers.Store) and the wallet's own save blob.
	Directory string `toml:"directory"`
	// ContainerCacheFile names the storm/bbolt database file within
	// Directory that backs internal/transfers.OpenStore.
	ContainerCacheFile string `toml:"container_cache_file"`
}

// SyncConfig carries the tunables a newly registered subscription (and
// the synchronizer driving it) starts from absent any more specific
// per-address choice.
type SyncConfig struct {
	// TransactionSpendableAge is the default transactionSpendableAge a
	// subscription is created with: the number of confirmations a
	// received output needs before it leaves the soft-locked state.
	TransactionSpendableAge uint64 `toml:"transaction_spendable_age"`
	// PollIntervalSeconds is read from the configuration document but
	// is not passed to the synchronizer, whose idle wait between phases
	// is a fixed 200 milliseconds.
	PollIntervalSeconds uint64 `toml:"poll_interval_seconds"`
}

// Config is the whole of a wallet core's configuration document.
type Config struct {
	Node        NodeConfig          `toml:"node"`
	Persistence PersistenceConfig   `toml:"persistence"`
	Sync        SyncConfig          `toml:"sync"`
	Policy      walletengine.Policy `toml:"policy"`
}

// Default returns the configuration this module ships with absent a
// config file, mirroring rivine's pkg/daemon.DefaultConfig: every field
// has a sane standalone value, so a config file only needs to override
// what differs from it.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Endpoint: "127.0.0.1:8081",
		},
		Persistence: PersistenceConfig{
			Directory:          "walletdata",
			ContainerCacheFile: "containers.db",
		},
		Sync: SyncConfig{
			TransactionSpendableAge: 10,
			PollIntervalSeconds:     5,
		},
		Policy: walletengine.DefaultPolicy(),
	}
}

// Load reads and parses the TOML document at path, filling in any field
// left unset in the file with Default's value for it by starting from
// the default and decoding the file on top of it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path as TOML,
// creating the file if it does not exist. It is used by cmd/walletcored
// to seed a config file for a first-time operator.
func WriteDefault(path string) error {
	return Write(path, Default())
}

// Write marshals cfg to path as TOML.
func Write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// RegisterFlags registers the subset of Config worth overriding from the
// command line, following rivine's pkg/daemon.Config.RegisterAsFlags
// pattern of binding struct fields directly to flag variables.
func (cfg *Config) RegisterFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&cfg.Node.Endpoint, "node-addr", "", cfg.Node.Endpoint, "host:port of the node RPC server")
	flagSet.StringVarP(&cfg.Persistence.Directory, "persistent-directory", "d", cfg.Persistence.Directory, "directory used to store wallet persistent data")
	flagSet.Uint64VarP(&cfg.Sync.TransactionSpendableAge, "spendable-age", "", cfg.Sync.TransactionSpendableAge, "confirmations required before a received output becomes spendable")
}
