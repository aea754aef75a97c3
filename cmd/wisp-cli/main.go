// Package main provides the entry point for wisp-cli.
//
// wisp-cli is a small command-line client for wisp-server:
//
//	wisp-cli ping
//	wisp-cli set session:42 '{"user":7}' --px 30000
//	wisp-cli get session:42
//
// The server address comes from --server or the WISP_SERVER environment
// variable.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/wispkv/wisp/internal/client"
	"github.com/wispkv/wisp/internal/infra/buildinfo"
)

// errNotFound marks an absent key so main can exit nonzero without
// printing an error line.
var errNotFound = errors.New("not found")

func main() {
	app := &cli.App{
		Name:    "wisp-cli",
		Usage:   "command-line client for wisp-server",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "server address",
				EnvVars: []string{"WISP_SERVER"},
				Value:   "127.0.0.1:6379",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "request timeout",
				Value: client.DefaultTimeout,
			},
		},
		Commands: []*cli.Command{
			pingCommand(),
			echoCommand(),
			setCommand(),
			getCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, errNotFound) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// connect dials the server from the global flags.
func connect(c *cli.Context) (*client.Client, error) {
	return client.Dial(c.String("server"), client.WithTimeout(c.Duration("timeout")))
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "check server liveness",
		ArgsUsage: "[message]",
		Action: func(c *cli.Context) error {
			conn, err := connect(c)
			if err != nil {
				return err
			}
			defer conn.Close()

			reply, err := conn.Ping(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}

func echoCommand() *cli.Command {
	return &cli.Command{
		Name:      "echo",
		Usage:     "round-trip a message through the server",
		ArgsUsage: "<message>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("echo requires exactly one argument")
			}
			conn, err := connect(c)
			if err != nil {
				return err
			}
			defer conn.Close()

			reply, err := conn.Echo([]byte(c.Args().First()))
			if err != nil {
				return err
			}
			fmt.Println(string(reply))
			return nil
		},
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "store a value under a key",
		ArgsUsage: "<key> <value>",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "px",
				Usage: "relative expiry in milliseconds",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("set requires a key and a value")
			}
			conn, err := connect(c)
			if err != nil {
				return err
			}
			defer conn.Close()

			key, value := c.Args().Get(0), []byte(c.Args().Get(1))
			if c.IsSet("px") {
				err = conn.SetEx(key, value, time.Duration(c.Int64("px"))*time.Millisecond)
			} else {
				err = conn.Set(key, value)
			}
			if err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read the value stored under a key",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("get requires exactly one key")
			}
			conn, err := connect(c)
			if err != nil {
				return err
			}
			defer conn.Close()

			value, ok, err := conn.Get(c.Args().First())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(nil)")
				return errNotFound
			}
			os.Stdout.Write(value)
			fmt.Println()
			return nil
		},
	}
}
