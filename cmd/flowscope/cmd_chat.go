package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/flowscope/flowscope/src/app"
	"github.com/flowscope/flowscope/src/chatclient"
	"github.com/flowscope/flowscope/src/config"
)

// ChatCmd sends one message, streaming the answer to stdout.
type ChatCmd struct {
	Text           string `arg:"" help:"Message text to send"`
	ConversationID string `help:"Reuse an existing conversation id"`
	Inputs         string `help:"Request parameters as a JSON object"`
	Blocking       bool   `help:"Use blocking mode instead of streaming"`
	Workflow       bool   `help:"Use the workflow traffic class (longer timeout, fewer retries)"`
}

// Run executes the chat command
func (c *ChatCmd) Run(ctx *kong.Context, cli *CLI) error {
	a, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	var inputs map[string]any
	if c.Inputs != "" {
		if err := json.Unmarshal([]byte(c.Inputs), &inputs); err != nil {
			return fmt.Errorf("failed to parse --inputs: %w", err)
		}
	}

	printed := 0
	msg, err := a.Client.SendMessage(context.Background(), c.Text, chatclient.SendOptions{
		Inputs:    inputs,
		Streaming: !c.Blocking,
		Workflow:  c.Workflow,
		OnUpdate: func(contentSoFar string) {
			fmt.Print(contentSoFar[printed:])
			printed = len(contentSoFar)
		},
	})
	if err != nil {
		if errors.Is(err, chatclient.ErrConversationReset) {
			fmt.Fprintln(os.Stderr, msg.Content)
			return nil
		}
		return err
	}

	if c.Blocking {
		fmt.Print(msg.Content)
	}
	fmt.Println()
	if msg.Usage != nil {
		fmt.Fprintf(os.Stderr, "conversation=%s tokens=%d\n",
			a.Client.ConversationID(), msg.Usage.TotalTokens)
	}
	return nil
}

// buildApp loads configuration and wires the application.
func buildApp(cli *CLI) (*app.App, error) {
	cfg, err := config.NewLoader().Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.BaseURL != "" {
		cfg.API.BaseURL = cli.BaseURL
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	return app.New(cfg, createCLILogger(cfg.LogLevel))
}
