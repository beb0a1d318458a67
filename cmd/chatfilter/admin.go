package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/whisper/chat-filter/internal/admin"
	"github.com/whisper/chat-filter/internal/messaging"
	"github.com/whisper/chat-filter/internal/protocol"
)

var adminCommand = &cli.Command{
	Name:  "admin",
	Usage: "administer a running moderator over NATS",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "how long to wait for the moderator to answer",
			Value: 5 * time.Second,
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:  "pattern",
			Usage: "manage forbidden patterns",
			Subcommands: []*cli.Command{
				{
					Name:      "add",
					ArgsUsage: "<pattern>",
					Action:    adminAction(protocol.TypeAddPattern, patternArg),
				},
				{
					Name:      "remove",
					ArgsUsage: "<pattern>",
					Action:    adminAction(protocol.TypeRemovePattern, patternArg),
				},
				{
					Name:   "list",
					Action: adminAction(protocol.TypeListPatterns, noArgs),
				},
			},
		},
		{
			Name:  "exclude",
			Usage: "manage authors exempt from moderation",
			Subcommands: []*cli.Command{
				{
					Name:      "add",
					ArgsUsage: "<author>",
					Action:    adminAction(protocol.TypeAddExclusion, authorArg(true)),
				},
				{
					Name:      "remove",
					ArgsUsage: "<author>",
					Action:    adminAction(protocol.TypeRemoveExclusion, authorArg(true)),
				},
				{
					Name:   "list",
					Action: adminAction(protocol.TypeListExclusions, noArgs),
				},
			},
		},
		{
			Name:      "test",
			Usage:     "check a message against the patterns without counting it",
			ArgsUsage: "<message>",
			Action: adminAction(protocol.TypeTest, func(cctx *cli.Context) (interface{}, error) {
				if cctx.NArg() < 1 {
					return nil, fmt.Errorf("need to provide a message as an argument")
				}
				return protocol.TestMsg{Message: cctx.Args().First()}, nil
			}),
		},
		{
			Name:      "violations",
			Usage:     "show violation counts for one author, or everyone",
			ArgsUsage: "[author]",
			Action:    adminAction(protocol.TypeViolations, authorArg(false)),
		},
		{
			Name:      "reset",
			Usage:     "reset violation counts for one author, or everyone",
			ArgsUsage: "[author]",
			Action:    adminAction(protocol.TypeResetViolations, authorArg(false)),
		},
		{
			Name:      "history",
			Usage:     "show an author's recent incidents",
			ArgsUsage: "<author>",
			Action:    adminAction(protocol.TypeHistory, authorArg(true)),
		},
		{
			Name:   "stats",
			Action: adminAction(protocol.TypeStats, noArgs),
		},
		{
			Name:   "reload",
			Usage:  "re-read the configuration files",
			Action: adminAction(protocol.TypeReload, noArgs),
		},
		{
			Name:   "enable",
			Action: adminAction(protocol.TypeSetEnabled, enabledArg(true)),
		},
		{
			Name:   "disable",
			Action: adminAction(protocol.TypeSetEnabled, enabledArg(false)),
		},
		{
			Name:   "ping",
			Action: adminAction(protocol.TypePing, noArgs),
		},
	},
}

type payloadFunc func(cctx *cli.Context) (interface{}, error)

func noArgs(*cli.Context) (interface{}, error) { return nil, nil }

func patternArg(cctx *cli.Context) (interface{}, error) {
	if cctx.NArg() < 1 {
		return nil, fmt.Errorf("need to provide a pattern as an argument")
	}
	return protocol.PatternMsg{Pattern: cctx.Args().First()}, nil
}

func authorArg(required bool) payloadFunc {
	return func(cctx *cli.Context) (interface{}, error) {
		if required && cctx.NArg() < 1 {
			return nil, fmt.Errorf("need to provide an author as an argument")
		}
		return protocol.AuthorMsg{Author: cctx.Args().First()}, nil
	}
}

func enabledArg(enabled bool) payloadFunc {
	return func(*cli.Context) (interface{}, error) {
		return protocol.SetEnabledMsg{Enabled: enabled}, nil
	}
}

func adminAction(msgType string, payload payloadFunc) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		body, err := payload(cctx)
		if err != nil {
			return err
		}

		conf := messaging.DefaultNATSConfig()
		conf.URL = cctx.String("nats-url")
		conf.Name = "chatfilter-admin"
		conf.MaxReconnects = 0
		conf.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		client, err := messaging.NewNATSClient(conf)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
		defer cancel()

		resp, err := admin.Call(ctx, client, msgType, body)
		if err != nil {
			return err
		}

		var out bytes.Buffer
		if err := json.Indent(&out, resp, "", "  "); err != nil {
			return err
		}
		out.WriteByte('\n')
		_, err = out.WriteTo(os.Stdout)
		return err
	}
}
