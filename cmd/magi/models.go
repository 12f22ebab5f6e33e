package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/magi-ai/magi/internal/model"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Run: func(_ *cobra.Command, _ []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tCONTEXT\tTOOLS\tOPENROUTER")
			for _, e := range model.Default().Entries() {
				tools := ""
				if e.Features.ToolUse {
					tools = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.Provider, e.Features.ContextWindow, tools, e.OpenRouterID)
			}
			_ = w.Flush()
		},
	}
}
