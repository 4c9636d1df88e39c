package umbrad

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogFilename    = "umbrad.log"
	defaultMaxLogFileSize = 10
	defaultMaxLogFiles    = 3
)

// Config holds the wallet engine settings an embedding node loads at
// startup.
type Config struct {
	WalletDir string `long:"walletdir" description:"Directory holding the wallet database"`
	LogDir    string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	Confirmations    uint32        `long:"confirmations" description:"Default confirmation count for balances and note selection"`
	RebroadcastAfter uint32        `long:"rebroadcastafter" description:"Blocks a pending transaction waits before rebroadcast"`
	ExpirationDelta  uint32        `long:"expirationdelta" description:"Default expiration distance for created transactions"`
	TickInterval     time.Duration `long:"tickinterval" description:"Pause between wallet scheduler ticks"`
}

// DefaultConfig returns the engine defaults relative to appData.
func DefaultConfig(appData string) *Config {
	return &Config{
		WalletDir:        filepath.Join(appData, "wallet"),
		LogDir:           filepath.Join(appData, "logs"),
		DebugLevel:       "info",
		Confirmations:    2,
		RebroadcastAfter: 10,
		ExpirationDelta:  15,
		TickInterval:     time.Second,
	}
}

// LoadConfig parses command line options over the defaults and validates
// the result.
func LoadConfig(appData string) (*Config, error) {
	cfg := DefaultConfig(appData)
	if _, err := flags.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.WalletDir = cleanAndExpandPath(cfg.WalletDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tickinterval must be positive, got %v",
			cfg.TickInterval)
	}
	if err := os.MkdirAll(cfg.WalletDir, 0700); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogFile returns the path the rotating log writer should use.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// cleanAndExpandPath expands environment variables and a leading ~ in a
// file path.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
