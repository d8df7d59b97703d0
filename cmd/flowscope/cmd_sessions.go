package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/flowscope/flowscope/src/config"
	"github.com/flowscope/flowscope/src/storage"
)

// SessionsCmd lists stored conversation metadata.
type SessionsCmd struct {
	DBPath string `help:"Database path (defaults to config)"`
}

// Run executes the sessions command
func (c *SessionsCmd) Run(ctx *kong.Context, cli *CLI) error {
	dbPath := c.DBPath
	if dbPath == "" {
		dbPath = config.GetDefaultStoragePaths().DatabasePath
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	metas, err := storage.ListConversations(context.Background(), db.DB())
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No stored conversations.")
		return nil
	}
	for _, meta := range metas {
		fmt.Printf("%s  created=%s  last_used=%s\n",
			meta.ID,
			meta.CreatedAt.Format(time.RFC3339),
			meta.LastUsed.Format(time.RFC3339))
	}
	return nil
}
