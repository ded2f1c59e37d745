package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskgate/internal/catalog"
)

// NewCatalogCommand returns the catalog subcommand.
func NewCatalogCommand() *cli.Command {
	patterns := func() cli.Flag {
		return &cli.StringSliceFlag{
			Name:  "catalog",
			Usage: "Catalog file glob (repeatable); defaults to session.catalog from the config",
		}
	}
	return &cli.Command{
		Name:  "catalog",
		Usage: "Inspect task catalogs",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List catalog tasks",
				Flags:  []cli.Flag{patterns()},
				Action: runCatalogList,
			},
			{
				Name:   "validate",
				Usage:  "Check that a catalog loads and can fill a visit",
				Flags:  []cli.Flag{patterns()},
				Action: runCatalogValidate,
			},
		},
	}
}

func loadCatalog(cmd *cli.Command) (*catalog.Catalog, int, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, 0, err
	}
	patterns := cfg.Session.Catalog
	if cmd.IsSet("catalog") {
		patterns = cmd.StringSlice("catalog")
	}
	cat, err := catalog.Load(patterns)
	if err != nil {
		return nil, 0, err
	}
	return cat, cfg.Session.TaskCount, nil
}

func runCatalogList(_ context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	cat, _, err := loadCatalog(cmd)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSECONDS\tTITLE")
	for _, d := range cat.Definitions() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, d.Kind, d.DurationSeconds, d.Title)
	}
	w.Flush()
	fmt.Printf("\n%d tasks, digest %s\n", cat.Len(), cat.Digest())
	return nil
}

func runCatalogValidate(_ context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	cat, k, err := loadCatalog(cmd)
	if err != nil {
		return err
	}
	if err := cat.Require(k); err != nil {
		return err
	}
	fmt.Printf("OK: %d tasks, %d per visit\n", cat.Len(), k)
	return nil
}
