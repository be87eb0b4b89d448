package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "Supervise autonomous coding agents",
		Long: `Warden spawns external coding CLIs inside pseudo-terminal sessions,
drives them through a multi-phase task pipeline, gates their tool
invocations behind an approval policy, and recovers from failure.`,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newRunCmd(),
		newStatusCmd(),
		newAgentsCmd(),
		newApprovalsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Warden version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Warden v%s\n", version)
		},
	}
}
