package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskgate/internal/unlock"
)

// NewEncodeCommand returns the encode subcommand.
func NewEncodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Encode a resource reference for a visit link",
		ArgsUsage: "<reference>",
		Action: func(_ context.Context, cmd *cli.Command) error {
			ref := cmd.Args().First()
			if ref == "" {
				return errors.New("missing reference")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			encoded := unlock.EncodeResource(ref)
			q := url.Values{}
			q.Set(cfg.Session.ResourceParam, encoded)
			fmt.Println(encoded)
			fmt.Printf("http://%s:%d/?%s\n", cfg.Gateway.Host, cfg.Gateway.Port, q.Encode())
			return nil
		},
	}
}
