package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createCheckCommand(globalFlags),
		createRecordCommand(),
		createProbeCommand(),
		createRedeployCommand(),
		createStatusCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "pairwatch",
		Short: "Mutual process watchdog",
		Long: `Pairwatch keeps two programs alive by having each one watch the other.
Both sides share a small record file holding their process ids; a side that
finds its peer gone restores the peer's executable from a backup archive if
needed, relaunches it and records the new id.

Examples:
  pairwatch run a.toml                          # supervise the peer
  pairwatch check a.toml                        # run one check cycle
  pairwatch record show --path=/var/lib/pw/pair.rec
  pairwatch status --api-url=http://127.0.0.1:8089/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Start the watchdog loop",
		Long: `Start the watchdog, the optional status API and metrics listener, and
block until SIGINT or SIGTERM.

Examples:
  pairwatch run a.toml
  pairwatch run --config=a.toml --daemonize --pidfile=/run/pw-a.pid --logfile=/var/log/pw-a.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			return command{out: cmd.OutOrStdout()}.Run(*runFlags, args)
		},
	}
	cmd.Flags().BoolVar(&runFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&runFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "write logs to this file")
	return cmd
}

func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [config.toml]",
		Short: "Run one check cycle and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return command{out: cmd.OutOrStdout()}.Check(CheckFlags{ConfigPath: globalFlags.ConfigPath}, args)
		},
	}
}

func createRecordCommand() *cobra.Command {
	recordFlags := &RecordFlags{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect or write the coordination record",
	}
	cmd.PersistentFlags().StringVar(&recordFlags.Path, "path", "", "record file path (required)")
	if err := cmd.MarkPersistentFlagRequired("path"); err != nil {
		panic(err)
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print both slots of the record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command{out: cmd.OutOrStdout()}.RecordShow(*recordFlags)
		},
	}
	write := &cobra.Command{
		Use:   "write",
		Short: "Write own and peer ids into the record",
		Long: `Write own and peer ids into the record. The own id lands at --slot,
the peer id at the other slot.

Examples:
  pairwatch record write --path=pair.rec --slot=0 --own-id=1234 --peer-id=5678`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return command{out: cmd.OutOrStdout()}.RecordWrite(*recordFlags)
		},
	}
	write.Flags().IntVar(&recordFlags.Slot, "slot", 0, "own slot (0 or 1)")
	write.Flags().IntVar(&recordFlags.OwnID, "own-id", os.Getpid(), "own process id")
	write.Flags().IntVar(&recordFlags.PeerID, "peer-id", -1, "peer process id")
	cmd.AddCommand(show, write)
	return cmd
}

func createProbeCommand() *cobra.Command {
	probeFlags := &ProbeFlags{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report whether a process id is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command{out: cmd.OutOrStdout()}.Probe(*probeFlags)
		},
	}
	cmd.Flags().IntVar(&probeFlags.PID, "pid", 0, "process id (required)")
	cmd.Flags().StringVar(&probeFlags.Exe, "exe", "", "also require the process to run this executable")
	if err := cmd.MarkFlagRequired("pid"); err != nil {
		panic(err)
	}
	return cmd
}

func createRedeployCommand() *cobra.Command {
	redeployFlags := &RedeployFlags{}
	cmd := &cobra.Command{
		Use:   "redeploy",
		Short: "Restore a missing executable from its backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command{out: cmd.OutOrStdout()}.Redeploy(*redeployFlags)
		},
	}
	cmd.Flags().StringVar(&redeployFlags.Target, "target", "", "executable path (required)")
	cmd.Flags().StringVar(&redeployFlags.Backup, "backup", "", "backup archive (.zip or .tar.gz)")
	if err := cmd.MarkFlagRequired("target"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand() *cobra.Command {
	statusFlags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running watchdog's status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command{out: cmd.OutOrStdout()}.Status(*statusFlags)
		},
	}
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "status API base URL (e.g. http://127.0.0.1:8089/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&statusFlags.Check, "check", false, "run a check cycle instead of reading the snapshot")
	cmd.Flags().StringVar(&statusFlags.CACert, "ca-cert", "", "CA certificate to verify the API server (e.g. tls_ca.crt)")
	cmd.Flags().BoolVar(&statusFlags.Insecure, "insecure", false, "skip TLS verification")
	return cmd
}
