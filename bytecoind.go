package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amjuarez/bytecoin-sub001/blockchain"
	"github.com/amjuarez/bytecoin-sub001/config"
	"github.com/amjuarez/bytecoin-sub001/core"
	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/database/ldb"
	"github.com/amjuarez/bytecoin-sub001/logger"
)

// poolExpiryInterval is how often the pool lifetime sweep runs.
const poolExpiryInterval = 60 * time.Second

// bytecoindMain is the real main function for bytecoind. It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func bytecoindMain() error {
	cfg, cur, err := config.LoadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logger.LogRotator != nil {
			logger.LogRotator.Close()
		}
	}()

	log.Infof("starting %s node, data directory %s", cur.Name, cfg.DataDir)

	db, err := ldb.NewLevelDB(cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() {
		log.Infof("gracefully shutting down the database...")
		if err := db.Close(); err != nil {
			log.Errorf("database close failed: %s", err)
		}
	}()

	coreNode, err := core.New(core.Config{
		Currency:    cur,
		DB:          db,
		RingChecker: crypto.NewRingChecker(),
		Clock:       blockchain.RealClock(),
	})
	if err != nil {
		return err
	}

	topIndex, topHash, err := coreNode.TopBlock()
	if err != nil {
		return err
	}
	log.Infof("chain loaded, top block %s at index %d", topHash, topIndex)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	expiry := time.NewTicker(poolExpiryInterval)
	defer expiry.Stop()

	for {
		select {
		case <-expiry.C:
			if removed := coreNode.RemoveExpiredPoolTransactions(); len(removed) > 0 {
				log.Infof("expired %d pool transactions", len(removed))
			}
		case <-interrupt:
			log.Infof("received shutdown signal")
			return nil
		}
	}
}

func main() {
	if err := bytecoindMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
