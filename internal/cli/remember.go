package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [text]",
		Short: "Store a memory",
		Long:  "Store a memory. Text can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("name", "n", "", "Memory name (derived from the text when omitted)")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")

	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			text = string(b)
		}
	}

	if strings.TrimSpace(text) == "" {
		exitErr("remember", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	sess, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer sess.Close()

	mem, err := sess.engine.Remember(cmd.Context(), userFlag, name, strings.TrimSpace(text))
	if err != nil {
		exitErr("remember", err)
	}

	b, _ := json.Marshal(mem)
	fmt.Println(string(b))
}
