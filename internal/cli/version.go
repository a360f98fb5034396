package cli

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the k8sai version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "k8sai version %s (%s/%s, %s)\n",
			version, goruntime.GOOS, goruntime.GOARCH, goruntime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
