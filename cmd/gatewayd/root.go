// Command gatewayd wires the Migration Engine, Connection Factory, Writer
// Actor, File-Scan Service, Job Queue, and Continuous-Scan Supervisor
// together behind a cobra command tree, the way cmd/bd wires the daemon and
// Turso commands in the teacher repo.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/panoptikon-gw/internal/config"
)

var (
	v       = viper.New()
	process config.Process
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Multi-tenant media-indexing gateway daemon",
	Long: `gatewayd runs the write-coordination core of the media-indexing
gateway: schema migrations, the per-database Writer Actor, the File-Scan
Service, the Job Queue, and the Continuous-Scan Supervisor.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.Load(v)
		if err != nil {
			return err
		}
		process = p
		if p.ReadOnly {
			// sqlconn.Open checks READONLY on every call.
			if err := os.Setenv("READONLY", "1"); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	config.BindFlags(rootCmd, v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
