// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/logger"
)

const (
	defaultDataDirname = ".bytecoind"
	defaultLogDirname  = "logs"
	defaultLogFilename = "bytecoind.log"
	defaultDebugLevel  = "info"
	defaultDBDirname   = "db"
)

// Config defines the configuration options for the daemon.
type Config struct {
	DataDir        string   `long:"data-dir" description:"Directory to store chain data"`
	Testnet        bool     `long:"testnet" description:"Use the test network"`
	AddCheckpoints []string `long:"add-checkpoint" description:"Add a custom checkpoint as INDEX:HASH"`
	DebugLevel     string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir         string   `long:"logdir" description:"Directory to log output"`
}

// LoadConfig initializes and parses the config using command line options.
func LoadConfig() (*Config, *currency.Currency, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot determine home directory")
	}

	cfg := &Config{
		DataDir:    filepath.Join(homeDir, defaultDataDirname),
		DebugLevel: defaultDebugLevel,
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, nil, err
	}

	cur := currency.MainNet()
	if cfg.Testnet {
		cur = currency.TestNet()
		cfg.DataDir = filepath.Join(cfg.DataDir, "testnet")
	}

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, defaultLogDirname)
	}

	for _, arg := range cfg.AddCheckpoints {
		checkpoint, err := currency.ParseCheckpoint(arg)
		if err != nil {
			return nil, nil, err
		}
		if err := cur.AddCheckpoint(checkpoint.Index, checkpoint.Hash); err != nil {
			return nil, nil, err
		}
	}

	logger.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err := logger.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, err
	}

	return cfg, cur, nil
}

// DBPath returns the directory the embedded store lives in.
func (cfg *Config) DBPath() string {
	return filepath.Join(cfg.DataDir, defaultDBDirname)
}
