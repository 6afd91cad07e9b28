// Package main implements the operator tooling of the execution adapter: gas
// schedule management and inspection of the durable store.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store/kv"
	"golang.org/x/xerrors"
)

func main() {
	app := makeApp(os.Stdout)

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func makeApp(out *os.File) *cli.App {
	return &cli.App{
		Name:  "drivactl",
		Usage: "operator tooling for the execution adapter",
		Commands: []*cli.Command{
			{
				Name:  "schedule",
				Usage: "manage gas schedules",
				Subcommands: []*cli.Command{
					{
						Name:  "check",
						Usage: "validate a gas schedule file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "file",
								Usage:    "path to the YAML schedule",
								Required: true,
							},
						},
						Action: func(c *cli.Context) error {
							return checkSchedule(out, c.String("file"))
						},
					},
					{
						Name:  "init",
						Usage: "write the default gas schedule to a file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "file",
								Usage:    "path of the file to write",
								Required: true,
							},
						},
						Action: func(c *cli.Context) error {
							return initSchedule(out, c.String("file"))
						},
					},
				},
			},
			{
				Name:  "store",
				Usage: "inspect a durable store",
				Subcommands: []*cli.Command{
					{
						Name:  "scan",
						Usage: "list the keys of a bucket",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "db",
								Usage:    "path to the database file",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "bucket",
								Usage:    "name of the bucket",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "prefix",
								Usage: "hexadecimal key prefix",
							},
						},
						Action: func(c *cli.Context) error {
							return scanStore(out, c.String("db"),
								c.String("bucket"), c.String("prefix"))
						},
					},
				},
			},
		},
	}
}

func checkSchedule(out *os.File, path string) error {
	schedule, err := gas.LoadSchedule(path)
	if err != nil {
		return xerrors.Errorf("invalid schedule: %v", err)
	}

	fmt.Fprintf(out, "schedule version %d ok\n", schedule.Version)
	fmt.Fprintf(out, "intrinsic cost of an empty transaction: %d units\n",
		schedule.IntrinsicCost(0))

	return nil
}

func initSchedule(out *os.File, path string) error {
	data, err := gas.DefaultSchedule().Marshal()
	if err != nil {
		return xerrors.Errorf("failed to marshal schedule: %v", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return xerrors.Errorf("failed to write '%s': %v", path, err)
	}

	fmt.Fprintf(out, "default schedule written to %s\n", path)

	return nil
}

func scanStore(out *os.File, path, bucket, prefix string) error {
	db, err := kv.New(path)
	if err != nil {
		return xerrors.Errorf("failed to open db: %v", err)
	}

	defer db.Close()

	key, err := hex.DecodeString(prefix)
	if err != nil {
		return xerrors.Errorf("invalid prefix: %v", err)
	}

	return db.View([]byte(bucket), func(b kv.Bucket) error {
		return b.Scan(key, func(k, v []byte) error {
			fmt.Fprintf(out, "%x = %x\n", k, v)

			return nil
		})
	})
}
