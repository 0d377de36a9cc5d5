package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatbi",
	Short: "Chat BI Studio CLI - scheduled report delivery",
	Long: `Chat BI Studio CLI manages report templates, delivery schedules and
execution history against a running Chat BI Studio server.`,
}

func init() {
	rootCmd.AddCommand(newTemplateCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newRecipientCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
