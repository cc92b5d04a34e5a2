package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dFrag/cmd/decode"
	"github.com/ValentinKolb/dFrag/cmd/encode"
	"github.com/ValentinKolb/dFrag/cmd/perf"
	"github.com/ValentinKolb/dFrag/cmd/sweep"
	"github.com/ValentinKolb/dFrag/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dfrag",
		Short: "compact fragmented message codec",
		Long: fmt.Sprintf(`dFrag (v%s)

Encodes structured messages into small authenticated fragments and
reassembles them on the receiving side, across protocol versions.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return util.SetupLogging(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			util.WriteMetricsIfEnabled()
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dFrag",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dFrag v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(encode.EncodeCmd)
	RootCmd.AddCommand(decode.DecodeCmd)
	RootCmd.AddCommand(sweep.SweepCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("path of the configuration file (.toml, .yaml or .json)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
	key = "log-format"
	RootCmd.PersistentFlags().String(key, "text", util.WrapString("log format (text, json)"))
	key = "metrics"
	RootCmd.PersistentFlags().Bool(key, false, util.WrapString("print the collected metrics to stderr when the command exits"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
