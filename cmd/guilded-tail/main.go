// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command guilded-tail logs in to Guilded, opens the gateway and prints
// chat activity as it arrives until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/aiku/go-guilded/pkg/guilded"
	"github.com/aiku/go-guilded/pkg/markdown"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		token      string
		teams      []string
		logLevel   string
		jsonLogs   bool
		showDebug  bool
		asHTML     bool
		version    bool
	)
	flags := pflag.NewFlagSet("guilded-tail", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config; missing keys use the built-in defaults")
	flags.StringVarP(&token, "token", "t", "", "hmac_signed_session token (default: $GUILDED_TOKEN)")
	flags.StringArrayVar(&teams, "team", nil, "team id to open a dedicated shard for (repeatable)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	flags.BoolVar(&jsonLogs, "json", false, "log JSON instead of human readable lines")
	flags.BoolVar(&showDebug, "debug-events", false, "print gateway debug events")
	flags.BoolVar(&asHTML, "html", false, "print message bodies as HTML instead of plain text")
	flags.BoolVar(&version, "version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if version {
		fmt.Printf("guilded-tail %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if args := flags.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log := newLogger(jsonLogs).Level(level)

	if token == "" {
		token = os.Getenv("GUILDED_TOKEN")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.TeamShards = append(cfg.TeamShards, teams...)

	client, err := guilded.New(guilded.Options{Token: token, Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer client.Close()
	subscribe(client, log, showDebug, asHTML)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}
	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

func newLogger(jsonLogs bool) zerolog.Logger {
	if jsonLogs {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
}

func loadConfig(path string) (*guilded.Config, error) {
	if path == "" {
		return guilded.LoadConfig(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return guilded.LoadConfig(data)
}

// render formats a message body, resolving mentions from the user cache.
func render(client *guilded.Client, text string, asHTML bool) string {
	resolve := func(id string) (string, bool) {
		u, ok := client.Users.Cached(id)
		return u.Name, ok
	}
	if asHTML {
		return markdown.HTML(text, resolve)
	}
	return markdown.Plain(text, resolve)
}

func subscribe(client *guilded.Client, log zerolog.Logger, showDebug, asHTML bool) {
	guilded.On(client.Bus, func(evt guilded.ReadyEvent) {
		log.Info().Str("user", evt.User.Name).Int("teams", len(evt.User.Teams)).Msg("Ready")
	})
	guilded.On(client.Bus, func(evt guilded.MessageCreateEvent) {
		author := evt.Message.CreatedBy
		if u, ok := client.Users.Cached(author); ok {
			author = u.Name
		}
		fmt.Printf("[%s] %s: %s\n", evt.Message.ChannelID, author, render(client, evt.Message.Text, asHTML))
	})
	guilded.On(client.Bus, func(evt guilded.MessageUpdateEvent) {
		fmt.Printf("[%s] edited %s: %s\n", evt.Message.ChannelID, evt.Message.ID, render(client, evt.Message.Text, asHTML))
	})
	guilded.On(client.Bus, func(evt guilded.MessageDeleteEvent) {
		fmt.Printf("[%s] deleted %s\n", evt.Deleted.ChannelID, evt.Deleted.ID)
	})
	guilded.On(client.Bus, func(evt guilded.ChannelRenameEvent) {
		fmt.Printf("[%s] renamed %q -> %q\n", evt.ChannelID, evt.OldName, evt.NewName)
	})
	guilded.On(client.Bus, func(evt guilded.ErrorEvent) {
		log.Warn().Err(evt.Err).Str("shard_id", evt.ShardID).Msg("Client error")
	})
	guilded.On(client.Bus, func(evt guilded.RateLimitEvent) {
		log.Warn().Str("path", evt.Path).Dur("retry_after", evt.RetryAfter).Msg("Rate limited")
	})
	guilded.On(client.Bus, func(evt guilded.UnknownEvent) {
		log.Debug().Str("shard_id", evt.ShardID).Str("event", evt.Name).Msg("Unhandled gateway event")
	})
	if showDebug {
		guilded.On(client.Bus, func(evt guilded.DebugEvent) {
			log.Debug().Str("shard_id", evt.ShardID).Msg(evt.Message)
		})
	}
}
