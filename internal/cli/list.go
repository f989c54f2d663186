package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active memories",
		Run:   runList,
	}

	cmd.Flags().Bool("names-only", false, "Only output memory names")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	namesOnly, _ := cmd.Flags().GetBool("names-only")

	sess, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer sess.Close()

	memories, err := sess.store.ListActiveMemories(cmd.Context(), userFlag)
	if err != nil {
		exitErr("list", err)
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
