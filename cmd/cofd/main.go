// Command cofd is the synchronization daemon: it binds a UDP socket and
// answers HANDSHAKE, REF_REQUEST, OBJECT_REQUEST, BLOCK_REQUEST, and
// PUSH_REQUEST packets for every repository under its root directory.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cofvcs/cof/internal/graphsync"
	"github.com/cofvcs/cof/internal/log"
	"github.com/cofvcs/cof/internal/session"
	"github.com/cofvcs/cof/internal/store"
)

const (
	// DefaultPIDFile is the default path for the cofd PID file.
	DefaultPIDFile = "~/.local/share/cof/cofd.pid"
)

// Config represents the configuration for the cofd daemon.
type Config struct {
	// RootDir is the directory under which repo_path names are resolved.
	RootDir string
	// ListenAddr is the UDP address to bind.
	ListenAddr string
	// PIDFile is the path to the PID file.
	PIDFile string
	// LogLevel is the logging level.
	LogLevel string
	// PacketSize bounds a single response fragment's payload size.
	PacketSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	def := session.DefaultServerConfig()
	return Config{
		RootDir:    ".",
		ListenAddr: def.ListenAddr,
		PIDFile:    expandPath(DefaultPIDFile),
		LogLevel:   "info",
		PacketSize: def.PacketSize,
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pid file directory: %w", err)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
}

func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// storeCache opens each repository's SqliteStore once and keeps it around for
// the life of the daemon, since every inbound packet needs a Store and
// re-opening the database per packet would defeat the point of a persistent
// process.
type storeCache struct {
	mu     sync.Mutex
	root   string
	stores map[string]*store.SqliteStore
}

func newStoreCache(root string) *storeCache {
	return &storeCache{root: root, stores: map[string]*store.SqliteStore{}}
}

func (c *storeCache) open(repoPath string) (graphsync.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.stores[repoPath]; ok {
		return s, nil
	}

	dbPath := filepath.Join(c.root, repoPath, "repo.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("repository not found at %s: %w", repoPath, err)
	}
	s, err := store.Open(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", repoPath, err)
	}
	c.stores[repoPath] = s
	return s, nil
}

func (c *storeCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.stores {
		s.Close()
	}
}

func runDaemon(config Config) error {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.SetLevel(zerolog.InfoLevel)
		log.Error().Err(err).Str("level", config.LogLevel).Msg("invalid log level, defaulting to info")
	} else {
		log.SetLevel(level)
	}

	config.RootDir, err = filepath.Abs(expandPath(config.RootDir))
	if err != nil {
		return fmt.Errorf("resolve root dir: %w", err)
	}
	log.Info().Str("root_dir", config.RootDir).Str("listen", config.ListenAddr).Msg("starting cofd")

	config.PIDFile = expandPath(config.PIDFile)
	if err := writePIDFile(config.PIDFile); err != nil {
		log.Error().Err(err).Str("path", config.PIDFile).Msg("failed to write pid file")
	}
	defer func() {
		if err := removePIDFile(config.PIDFile); err != nil {
			log.Error().Err(err).Msg("failed to remove pid file")
		}
	}()

	cache := newStoreCache(config.RootDir)
	defer cache.closeAll()

	serverConfig := session.ServerConfig{
		ListenAddr: config.ListenAddr,
		RootDir:    config.RootDir,
		PacketSize: config.PacketSize,
	}
	srv, err := session.NewServer(serverConfig, cache.open)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("error closing server")
		}
	}()

	log.Info().Msg("cofd serving")
	if err := srv.Serve(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("cofd stopped")
	return nil
}

func main() {
	config := DefaultConfig()

	app := &cli.App{
		Name:  "cofd",
		Usage: "cof synchronization daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "root",
				Aliases:     []string{"r"},
				Usage:       "root directory repositories are resolved under",
				Value:       config.RootDir,
				Destination: &config.RootDir,
			},
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"L"},
				Usage:       "UDP address to listen on",
				Value:       config.ListenAddr,
				Destination: &config.ListenAddr,
			},
			&cli.StringFlag{
				Name:        "pid-file",
				Aliases:     []string{"p"},
				Usage:       "path to the PID file",
				Value:       config.PIDFile,
				Destination: &config.PIDFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "logging level (debug, info, warn, error)",
				Value:       config.LogLevel,
				Destination: &config.LogLevel,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable verbose (debug) logging",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("verbose") {
				config.LogLevel = "debug"
			}
			return runDaemon(config)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
