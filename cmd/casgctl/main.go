// Command casgctl is a thin operability CLI over a Repository: opening a
// database, reporting stats, running full verification, taking backups,
// and running orphan GC. It is not a query surface — no FASTA ingestion,
// no search, no reduction profiles live here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/talariadb/casg/config"
	"github.com/talariadb/casg/repository"
	"github.com/talariadb/casg/verify"
)

var rootFlag = &cli.StringFlag{
	Name:     "root",
	Aliases:  []string{"r"},
	Usage:    "repository root directory",
	Required: true,
}

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to a casg configuration file",
}

func openRepo(c *cli.Context) (*repository.Repository, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	return repository.Open(c.String("root"), cfg)
}

func main() {
	app := &cli.App{
		Name:  "casgctl",
		Usage: "operate a content-addressed sequence graph repository",
		Flags: []cli.Flag{rootFlag, configFlag},
		Commands: []*cli.Command{
			openCmd,
			statsCmd,
			verifyCmd,
			backupCmd,
			gcCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error("casgctl failed")
		os.Exit(1)
	}
}

var openCmd = &cli.Command{
	Name:  "open",
	Usage: "open (creating if absent) the repository and report its layout",
	Action: func(c *cli.Context) error {
		repo, err := openRepo(c)
		if err != nil {
			return err
		}
		defer repo.Close()
		fmt.Printf("repository ready at %s\n", repo.Root)
		return nil
	},
}

var statsCmd = &cli.Command{
	Name:  "stats",
	Usage: "print chunk store statistics and the adaptive batch size",
	Action: func(c *cli.Context) error {
		repo, err := openRepo(c)
		if err != nil {
			return err
		}
		defer repo.Close()

		stats, err := repo.Blobs.GetStats()
		if err != nil {
			return err
		}
		fmt.Printf("chunks: %d (%s)\n", stats.ChunkCount, stats.String())
		fmt.Printf("adaptive batch size: %d\n", repo.Monitor.BatchSize())
		return nil
	},
}

var verifyCmd = &cli.Command{
	Name:      "verify",
	Usage:     "run full verification against a stored manifest",
	ArgsUsage: "<manifest-key>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return fmt.Errorf("usage: casgctl verify <manifest-key>")
		}
		repo, err := openRepo(c)
		if err != nil {
			return err
		}
		defer repo.Close()

		m, err := repo.Manifests.Load(c.Args().First())
		if err != nil {
			return err
		}
		report := repo.Verify(context.Background(), m)
		printReport(m.StorageKey(), report)
		if !report.OK() {
			return fmt.Errorf("verification found problems")
		}
		return nil
	},
}

func printReport(key string, r verify.Report) {
	fmt.Printf("manifest %s: ok=%v verified=%d corrupted=%d missing=%d orphaned=%d inconsistent_roots=%v\n",
		key, r.OK(), r.TotalVerified, len(r.Corrupted), len(r.Missing), len(r.Orphaned), r.InconsistentRoots)
}

var backupCmd = &cli.Command{
	Name:  "backup",
	Usage: "write a consistent backup of the KV store",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "dir", Required: true, Usage: "backup destination directory"},
		&cli.BoolFlag{Name: "flush", Value: true, Usage: "fsync before snapshotting"},
	},
	Action: func(c *cli.Context) error {
		repo, err := openRepo(c)
		if err != nil {
			return err
		}
		defer repo.Close()

		id, err := repo.KV.CreateBackup(c.String("dir"), c.Bool("flush"))
		if err != nil {
			return err
		}
		fmt.Printf("backup %s written under %s\n", id, c.String("dir"))
		return nil
	},
}

var gcCmd = &cli.Command{
	Name:  "gc",
	Usage: "run orphan chunk garbage collection",
	Action: func(c *cli.Context) error {
		repo, err := openRepo(c)
		if err != nil {
			return err
		}
		defer repo.Close()

		report, err := repo.GC()
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d chunks, deleted %d, reclaimed %d bytes\n",
			report.ChunksScanned, report.ChunksDeleted, report.BytesReclaimed)
		return nil
	},
}
