package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rnambaale/monexo-ecash/mint"
	"github.com/rnambaale/monexo-ecash/mint/admin"
	"github.com/rnambaale/monexo-ecash/mint/chain"
	"github.com/rnambaale/monexo-ecash/mint/payout"
	"github.com/rnambaale/monexo-ecash/mint/storage/sqlite"
)

// expirySweepInterval is how often the mint checks open quotes for
// lazy expiry; independent of mint.QuoteExpiry, the quote lifetime.
const expirySweepInterval = time.Minute

func main() {
	config := mint.GetConfig()

	dbPath := config.DBPath
	if dbPath == "" {
		dbPath = config.MintPath
	}
	if dbPath == "" {
		dbPath = defaultDBPath()
	}
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		log.Fatalf("creating db path: %v", err)
	}

	db, err := sqlite.Init(dbPath)
	if err != nil {
		log.Fatalf("error opening store: %v", err)
	}
	defer db.Close()

	executor, err := payoutExecutorFromEnv()
	if err != nil {
		log.Fatalf("error configuring payout executor: %v", err)
	}

	m, err := mint.LoadMint(config, db, executor)
	if err != nil {
		log.Fatalf("error loading mint: %v\n", err)
	}

	// A real deployment wires a watcher process here that calls
	// m.NotifyDeposit on confirmed on-chain transfers; mintd exposes
	// the DepositNotifier boundary but does not run the watcher
	// itself.
	var _ chain.DepositNotifier = m

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	m.StartExpirySweeper(sweepCtx, expirySweepInterval)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	var adminServer *admin.Server
	enableAdmin := strings.ToLower(os.Getenv("ENABLE_ADMIN_SERVER")) == "true"

	if enableAdmin {
		addr := config.AdminPort
		if addr != "" && !strings.Contains(addr, ":") {
			addr = "127.0.0.1:" + addr
		}
		adminServer, err = admin.SetupServer(m, addr)
		if err != nil {
			log.Fatalf("error setting up admin server: %v\n", err)
		}
	}

	go func() {
		<-c
		stopSweep()
		if adminServer != nil {
			adminServer.Shutdown()
		}
	}()

	var wg sync.WaitGroup
	if adminServer != nil {
		wg.Add(1)
		go func() {
			if err := adminServer.Start(); err != nil {
				log.Fatalf("error running admin server: %v\n", err)
			}
			wg.Done()
		}()
	}

	wg.Wait()
}

// payoutExecutorFromEnv picks the payout collaborator. No real
// on-chain payout backend is wired yet, so PAYOUT_BACKEND=Fake (the
// default) runs a self-contained executor useful for demos and
// integration testing; any other value fails fast rather than
// silently minting against a backend that cannot actually pay out.
func payoutExecutorFromEnv() (payout.Executor, error) {
	switch os.Getenv("PAYOUT_BACKEND") {
	case "", "Fake":
		return payout.NewFakeExecutor(), nil
	default:
		log.Fatalf("unknown PAYOUT_BACKEND %q", os.Getenv("PAYOUT_BACKEND"))
		return nil, nil
	}
}

func defaultDBPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	return homedir + "/.monexo/mint"
}
