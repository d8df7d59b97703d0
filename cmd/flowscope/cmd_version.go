package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// Version is set at build time.
var Version = "dev"

// VersionCmd shows the version
type VersionCmd struct{}

// Run executes the version command
func (c *VersionCmd) Run(ctx *kong.Context, cli *CLI) error {
	fmt.Printf("flowscope %s\n", Version)
	return nil
}
