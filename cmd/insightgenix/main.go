package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "insightgenix",
	Short: "Text-to-SQL assistant grounded on trained examples, schema and documentation",
	Long: `insightgenix turns natural-language questions into SQL queries and
insights over a SQLite database, grounded on trained question/SQL examples,
schema statements and documentation.

Directives in the chat channel:
  query: <question>   generate and execute a SQL query
  insight: <request>  analyze the most recent query result
  anything else       plain conversation`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(trainingCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(purgeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
