package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/stargazerkiyoshi/realtime-voice/cmd/voicebridge/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, build.String())
		if IsVerbose() {
			fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
			if cfg, err := GetConfig(); err != nil {
				fmt.Fprintf(out, "  config: (unavailable: %v)\n", err)
			} else if cfg.Path != "" {
				fmt.Fprintf(out, "  config: %s\n", cfg.Path)
			} else {
				fmt.Fprintln(out, "  config: (environment only)")
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
