package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/panoptikon-gw/internal/config"
	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
	"github.com/mesh-intelligence/panoptikon-gw/internal/migrate"
	"github.com/mesh-intelligence/panoptikon-gw/internal/sqlconn"
)

var scanCmd = &cobra.Command{
	Use:   "scan <db-key> <folder>...",
	Short: "Run a one-shot file scan over the given folders",
	Long: `Run the File-Scan Service once for db-key against the folders given
on the command line, reporting the resulting counters.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbKey, roots := args[0], args[1:]
		ctx := context.Background()

		if err := migrate.MigrateOne(ctx, process.DataRoot, dbKey); err != nil {
			return fmt.Errorf("migrating %s: %w", dbKey, err)
		}

		sysCfg, err := config.LoadSystemConfig(process.DataRoot, dbKey)
		if err != nil {
			return fmt.Errorf("loading config for %s: %w", dbKey, err)
		}

		paths, err := sqlconn.Resolve(process.DataRoot, dbKey)
		if err != nil {
			return fmt.Errorf("resolving paths for %s: %w", dbKey, err)
		}

		writerCfg := indexwriter.DefaultConfig()
		writerCfg.IdleTimeout = process.IdleTimeout
		writerCfg.MailboxSize = process.MailboxSize
		writer := indexwriter.New(dbKey, paths, writerCfg, nil)
		defer writer.Stop()

		filter := sysCfg.FileScanFilterExpr()

		start := time.Now()
		stats, err := filescan.Scan(ctx, filescan.ScanOptions{
			IncludeRoots: roots,
			Extensions: filescan.ExtensionSet{
				Images: sysCfg.ScanImages,
				Video:  sysCfg.ScanVideo,
				Audio:  sysCfg.ScanAudio,
				HTML:   sysCfg.ScanHTML,
				PDF:    sysCfg.ScanPDF,
			},
			Filter:      filter,
			PruneFilter: filter,
			Writer:      writer,
			DBKey:       dbKey,
			Cancel:      filescan.NewCancelToken(ctx),
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", dbKey, err)
		}

		fmt.Printf("scan of %s complete in %s: %s new items, %s new files, %s modified, %s unchanged, %s unavailable, %s errors\n",
			dbKey, time.Since(start).Round(time.Millisecond),
			humanize.Comma(int64(stats.NewItems)), humanize.Comma(int64(stats.NewFiles)),
			humanize.Comma(int64(stats.ModifiedFiles)), humanize.Comma(int64(stats.UnchangedFiles)),
			humanize.Comma(int64(stats.MarkedUnavailable)), humanize.Comma(int64(stats.Errors)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
