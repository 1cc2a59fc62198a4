package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/panoptikon-gw/internal/config"
	"github.com/mesh-intelligence/panoptikon-gw/internal/continuousscan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
	"github.com/mesh-intelligence/panoptikon-gw/internal/jobqueue"
	"github.com/mesh-intelligence/panoptikon-gw/internal/pql"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the writer, job queue, and continuous-scan supervisors",
	Long: `serve starts the long-running side of the gateway: the Writer
Supervisor, the Continuous-Scan Supervisor, and the Job Queue, then blocks
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.Default()

		writerCfg := indexwriter.DefaultConfig()
		writerCfg.IdleTimeout = process.IdleTimeout
		writerCfg.MailboxSize = process.MailboxSize
		writerCfg.Logger = logger

		writerSup := indexwriter.NewSupervisor(process.DataRoot, writerCfg, process.HealthCheckInterval)
		defer writerSup.Stop()

		scanSup := continuousscan.NewSupervisor(process.DataRoot, func(ctx context.Context, dbKey string) (continuousscan.WriterHandle, error) {
			return writerSup.WriterFor(ctx, dbKey)
		}, logger)
		defer scanSup.Stop()

		if err := scanSup.Reconcile(context.Background()); err != nil {
			logger.Printf("serve: initial reconcile failed: %v", err)
		}

		runner := &jobqueue.DefaultRunner{
			WriterFor: func(ctx context.Context, dbKey string) (filescan.WriterHandle, error) {
				return writerSup.WriterFor(ctx, dbKey)
			},
			ScanConfig: func(dbKey string) filescan.ExtensionSet {
				sysCfg, err := config.LoadSystemConfig(process.DataRoot, dbKey)
				if err != nil {
					return filescan.ExtensionSet{}
				}
				return filescan.ExtensionSet{
					Images: sysCfg.ScanImages,
					Video:  sysCfg.ScanVideo,
					Audio:  sysCfg.ScanAudio,
					HTML:   sysCfg.ScanHTML,
					PDF:    sysCfg.ScanPDF,
				}
			},
			FilterFor: func(dbKey string) pql.Expr {
				sysCfg, err := config.LoadSystemConfig(process.DataRoot, dbKey)
				if err != nil {
					return nil
				}
				return sysCfg.FileScanFilterExpr()
			},
		}

		queue := jobqueue.New(runner, scanSup, logger)
		defer queue.Stop()

		fmt.Printf("gatewayd serving data-root %s (press Ctrl+C to stop)\n", process.DataRoot)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("shutting down...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
