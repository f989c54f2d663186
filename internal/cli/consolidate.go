package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge clusters of similar memories",
		Long:  "Run a consolidation pass: cluster highly similar active memories and merge each cluster into a single memory.",
		Run:   runConsolidate,
	}

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	sess, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer sess.Close()

	merged, err := sess.engine.Consolidate(cmd.Context(), userFlag)
	if err != nil {
		exitErr("consolidate", err)
	}
	fmt.Printf("{\"merged\": %d}\n", merged)
}
