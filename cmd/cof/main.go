// Command cof is the client CLI: init, clone, fetch, pull, and push drive
// internal/graphsync against a remote cofd over internal/session.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cofvcs/cof/internal/graphsync"
	"github.com/cofvcs/cof/internal/log"
	"github.com/cofvcs/cof/internal/remoteurl"
	"github.com/cofvcs/cof/internal/session"
	"github.com/cofvcs/cof/internal/store"
)

const version = "0.0.1-dev"

func main() {
	app := &cli.App{
		Name:    "cof",
		Version: version,
		Usage:   "cof – content-addressed object synchronization client",
		Commands: []*cli.Command{
			initCmd,
			cloneCmd,
			fetchCmd,
			pullCmd,
			pushCmd,
		},
	}

	if os.Getenv("DEBUG") == "1" {
		log.SetLevel(zerolog.DebugLevel)
		log.EnableConsoleOutput()
		log.Debug().Msg("debug logging enabled")
	} else {
		log.SetLevel(zerolog.InfoLevel)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func repoDBPath(dir string) string {
	return filepath.Join(dir, "repo.db")
}

var initCmd = &cli.Command{
	Name:      "init",
	Usage:     "init <dir> – create a new local repository",
	ArgsUsage: "<dir>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: init <dir>", 1)
		}
		dir, err := filepath.Abs(c.Args().First())
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create repository directory: %w", err)
		}

		s, err := store.Open(repoDBPath(dir), true)
		if err != nil {
			return fmt.Errorf("initialize repository: %w", err)
		}
		defer s.Close()

		log.Info().Str("path", dir).Msg("repository initialized")
		return nil
	},
}

var cloneCmd = &cli.Command{
	Name:      "clone",
	Usage:     "clone <cof-url> <dir> – clone a remote repository",
	ArgsUsage: "<cof-url> <dir>",
	Flags:     fetchFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: clone <cof-url> <dir>", 1)
		}
		dir, err := filepath.Abs(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create repository directory: %w", err)
		}

		s, err := store.Open(repoDBPath(dir), true)
		if err != nil {
			return fmt.Errorf("initialize repository: %w", err)
		}
		defer s.Close()

		return runFetch(c, c.Args().First(), s)
	},
}

var fetchFlags = []cli.Flag{
	&cli.IntFlag{Name: "depth", Usage: "limit how many commits along the parent chain to fetch (default: unbounded)"},
	&cli.StringFlag{Name: "path", Usage: "glob restricting which files are fetched, e.g. \"docs/*\" or \"src/**\""},
	&cli.StringFlag{Name: "branch", Usage: "branch to fetch", Value: "main"},
	&cli.DurationFlag{Name: "timeout", Usage: "per-request timeout"},
	&cli.IntFlag{Name: "max-retries", Usage: "retries per request"},
}

var fetchCmd = &cli.Command{
	Name:      "fetch",
	Usage:     "fetch <cof-url> <dir> – fetch remote objects into an existing repository",
	ArgsUsage: "<cof-url> <dir>",
	Flags:     fetchFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: fetch <cof-url> <dir>", 1)
		}
		dir, err := filepath.Abs(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		s, err := store.Open(repoDBPath(dir), false)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer s.Close()

		return runFetch(c, c.Args().First(), s)
	},
}

var pullCmd = &cli.Command{
	Name:      "pull",
	Usage:     "pull <cof-url> <dir> – fetch and fast-forward the local branch ref",
	ArgsUsage: "<cof-url> <dir>",
	Flags:     fetchFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: pull <cof-url> <dir>", 1)
		}
		dir, err := filepath.Abs(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		s, err := store.Open(repoDBPath(dir), false)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer s.Close()

		return runFetch(c, c.Args().First(), s)
	},
}

func runFetch(c *cli.Context, url string, s *store.SqliteStore) error {
	remote, err := remoteurl.Parse(url)
	if err != nil {
		return fmt.Errorf("parse remote url: %w", err)
	}
	branch := c.String("branch")

	clientConfig := session.DefaultClientConfig()
	if c.Duration("timeout") > 0 {
		clientConfig.Timeout = c.Duration("timeout")
	}
	if c.IsSet("max-retries") {
		clientConfig.MaxRetries = c.Int("max-retries")
	}

	client, err := session.NewClient(remote.Endpoint(), remote.RepoPath, clientConfig)
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}
	defer client.Close()

	ctx := context.Background()
	if !client.Handshake(ctx) {
		return fmt.Errorf("handshake with %s failed", remote.Endpoint())
	}

	refs, err := client.RequestRefs(ctx)
	if err != nil {
		return fmt.Errorf("request refs: %w", err)
	}
	commitHash, ok := refs[branch]
	if !ok {
		return fmt.Errorf("remote has no branch %q", branch)
	}

	var depth *int
	if c.IsSet("depth") {
		d := c.Int("depth")
		depth = &d
	}

	sync := graphsync.NewSynchronizer(s)
	if err := sync.Fetch(ctx, client, commitHash, depth, c.String("path")); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if err := s.SetRef(branch, commitHash); err != nil {
		return fmt.Errorf("update local ref: %w", err)
	}

	log.Info().Str("branch", branch).Str("commit", commitHash).Msg("fetch complete")
	return nil
}

var pushCmd = &cli.Command{
	Name:      "push",
	Usage:     "push <dir> <cof-url> – push the local branch tip to a remote",
	ArgsUsage: "<dir> <cof-url>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "branch", Usage: "branch to push", Value: "main"},
		&cli.DurationFlag{Name: "timeout", Usage: "per-request timeout"},
		&cli.IntFlag{Name: "max-retries", Usage: "retries per request"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: push <dir> <cof-url>", 1)
		}
		dir, err := filepath.Abs(c.Args().First())
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		s, err := store.Open(repoDBPath(dir), false)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer s.Close()

		branch := c.String("branch")
		refs, err := s.ListRefs()
		if err != nil {
			return fmt.Errorf("read local refs: %w", err)
		}
		head, ok := refs[branch]
		if !ok {
			return fmt.Errorf("repository has no branch %q to push", branch)
		}

		remote, err := remoteurl.Parse(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("parse remote url: %w", err)
		}

		clientConfig := session.DefaultClientConfig()
		if c.Duration("timeout") > 0 {
			clientConfig.Timeout = c.Duration("timeout")
		}
		if c.IsSet("max-retries") {
			clientConfig.MaxRetries = c.Int("max-retries")
		}

		client, err := session.NewClient(remote.Endpoint(), remote.RepoPath, clientConfig)
		if err != nil {
			return fmt.Errorf("open client: %w", err)
		}
		defer client.Close()

		ctx := context.Background()
		if !client.Handshake(ctx) {
			return fmt.Errorf("handshake with %s failed", remote.Endpoint())
		}

		sync := graphsync.NewSynchronizer(s)
		objects, collected, err := sync.Collect(head)
		if err != nil {
			return fmt.Errorf("collect objects to push: %w", err)
		}

		blocks := make(map[string]session.BlockPush, len(collected))
		for hash, b := range collected {
			blocks[hash] = session.BlockPush{Data: b.Data, Sequence: b.Sequence}
		}

		if err := client.PushObjects(ctx, objects, blocks); err != nil {
			return fmt.Errorf("push objects: %w", err)
		}

		log.Info().Str("branch", branch).Str("commit", head).Int("objects", len(objects)).Int("blocks", len(blocks)).Msg("push complete")
		return nil
	},
}
