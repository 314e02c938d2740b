package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walletengine"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/pkg/config"
	"github.com/amjuarez/bytecoin-sub000/pkg/xlog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the wallet core against the node named in the config file",
	RunE:  runWalletCore,
}

// runWalletCore assembles a Wallet Engine from a loaded config.Config and
// runs it until SIGINT/SIGTERM, mirroring rivined's own load-then-block
// shape (cmd/rivined/daemon.go's runDaemon) at a fraction of the size:
// there is no HTTP API or module set here, only the Engine itself and
// the node it talks to.
func runWalletCore(*cobra.Command, []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("walletcored: %w", err)
	}

	if err := os.MkdirAll(cfg.Persistence.Directory, 0755); err != nil {
		return fmt.Errorf("walletcored: creating persistence directory: %w", err)
	}

	log, err := xlog.NewFileLogger(filepath.Join(cfg.Persistence.Directory, "walletcored.log"), true)
	if err != nil {
		return fmt.Errorf("walletcored: %w", err)
	}
	defer log.Close()

	store, err := transfers.OpenStore(filepath.Join(cfg.Persistence.Directory, cfg.Persistence.ContainerCacheFile))
	if err != nil {
		return fmt.Errorf("walletcored: opening container cache: %w", err)
	}
	defer store.Close()

	// internal/node ships one concrete Node today, a deterministic
	// in-memory stub; a real RPC client is out of scope (node RPC serving
	// treats INode as an external collaborator, not something this
	// module implements). An operator pointing cfg.Node.Endpoint at a
	// real node needs a Node built over that wire protocol substituted
	// here once one exists.
	nd := node.NewStubNode()
	log.Println("walletcored: using in-memory stub node; cfg.Node.Endpoint", cfg.Node.Endpoint, "is not yet dialed by any Node implementation in this module")

	viewSecretKey, _ := xcrypto.GenerateKeyPair()
	var primarySeed [32]byte
	if _, err := rand.Read(primarySeed[:]); err != nil {
		return fmt.Errorf("walletcored: generating primary seed: %w", err)
	}

	engine := walletengine.New(nd, log, viewSecretKey, primarySeed, cfg.Sync.TransactionSpendableAge)
	engine.SetPolicy(cfg.Policy)
	engine.SetStore(store)

	if err := engine.Start(); err != nil {
		return fmt.Errorf("walletcored: starting engine: %w", err)
	}
	log.Println("STARTUP: wallet core running, view public key", engine.ViewPublicKey())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go logEvents(ctx, engine, log)

	<-ctx.Done()
	log.Println("SHUTDOWN: signal received, stopping wallet core")
	return engine.Stop()
}

// logEvents drains the engine's event queue to the log until ctx is
// cancelled, standing in for the RPC/notification surface a full
// deployment would forward these events to.
func logEvents(ctx context.Context, engine *walletengine.Engine, log *xlog.Logger) {
	for {
		ev, ok := engine.GetEvent(ctx)
		if !ok {
			return
		}
		log.Debugln("event", ev.Kind.String())
	}
}
