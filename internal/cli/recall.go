package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Find memories relevant to a query",
		Long:  "Find the memories most similar to a free-text query, nearest first.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().Bool("names-only", false, "Only output memory names")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	namesOnly, _ := cmd.Flags().GetBool("names-only")
	query := strings.Join(args, " ")

	sess, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer sess.Close()

	memories, err := sess.engine.Recall(cmd.Context(), userFlag, query)
	if err != nil {
		exitErr("recall", err)
	}

	if namesOnly {
		for _, m := range memories {
			fmt.Println(m.Name)
		}
		return
	}

	b, _ := json.MarshalIndent(memories, "", "  ")
	fmt.Println(string(b))
}
