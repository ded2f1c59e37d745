package commands

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/taskgate/clients/tui"
	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// NewPlayCommand returns the play subcommand.
func NewPlayCommand() *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Run a visit in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "resource",
				Usage: "Base64-encoded resource reference",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Plain resource reference (encoded for you)",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Seed task selection for a reproducible visit",
			},
		},
		Action: runPlay,
	}
}

func runPlay(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("play needs an interactive terminal")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Session.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	schedule, err := cfg.Tamper.Schedule()
	if err != nil {
		return err
	}

	encoded := cmd.String("resource")
	if cmd.IsSet("url") {
		encoded = unlock.EncodeResource(cmd.String("url"))
	}

	visit := unlock.VisitOptions{
		Encoded:       encoded,
		Catalog:       cat,
		TaskCount:     cfg.Session.TaskCount,
		TickInterval:  cfg.Session.TickInterval.Duration(),
		Tamper:        cfg.Tamper.Monitor(),
		ProbeSchedule: schedule,
	}
	if cmd.IsSet("seed") {
		seed := cmd.Uint64("seed")
		visit.Rand = rand.New(rand.NewPCG(seed, seed))
	}

	ref, err := tui.Run(ctx, tui.Options{Visit: visit})
	if err != nil {
		return err
	}
	if ref != "" {
		fmt.Println(ref)
	}
	return nil
}
