package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/insightgenix/insightgenix/internal/config"
	"github.com/insightgenix/insightgenix/internal/ingest"
	"github.com/insightgenix/insightgenix/internal/session"
	"github.com/insightgenix/insightgenix/internal/training"
	"github.com/insightgenix/insightgenix/internal/vector"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session against the configured database",
	Long: `Start an interactive chat session. Prefix a question with "query:"
to generate and execute SQL, "insight:" to analyze the most recent query
result, or type plain text for conversation. Ctrl-D exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, sess, _, err := buildStack(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Println(colorize(colorCyan, session.Greeting))

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for {
			fmt.Print(colorize(colorBold, "> "))
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var streamed bool
			reply, err := sess.Handle(cmd.Context(), line, func(chunk string) {
				streamed = true
				fmt.Print(chunk)
			})
			if streamed {
				fmt.Println()
			}
			if err != nil {
				printError("%v", err)
				continue
			}
			// The clarifying insight reply streams nothing; print it.
			if !streamed && reply.Content != "" {
				fmt.Println(reply.Content)
			}
			if reply.ExecError != "" {
				printError("query failed: %s", reply.ExecError)
			}
			if reply.Result != nil {
				printTable(reply)
			}
		}
	},
}

func printTable(reply session.Message) {
	t := reply.Result
	fmt.Println(colorize(colorBold, strings.Join(t.Columns, " | ")))
	for _, row := range t.Rows {
		fmt.Println(strings.Join(row, " | "))
	}
	fmt.Printf("(%d rows)\n", len(t.Rows))
}

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Store grounding material for SQL generation",
	Long: `Store grounding material for SQL generation.

Examples:
  insightgenix train --question "top customers" --sql "SELECT * FROM customers ORDER BY sales DESC LIMIT 10"
  insightgenix train --ddl "CREATE TABLE customers (name TEXT, sales INTEGER)"
  insightgenix train --doc "Sales figures are in US dollars"
  insightgenix train --pdf ./schema-notes.pdf
  insightgenix train --url https://example.com/data-dictionary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		sqlText, _ := cmd.Flags().GetString("sql")
		ddl, _ := cmd.Flags().GetString("ddl")
		doc, _ := cmd.Flags().GetString("doc")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		pageURL, _ := cmd.Flags().GetString("url")

		// Extracted documents are chunked and trained as a batch; every
		// other source is a single item.
		if pdfPath != "" || pageURL != "" {
			var text string
			var err error
			if pdfPath != "" {
				text, err = ingest.ExtractPDF(pdfPath)
			} else {
				text, err = ingest.FetchURL(cmd.Context(), pageURL)
			}
			if err != nil {
				return err
			}
			chunks := ingest.Chunks(text, ingest.DefaultChunkSize)
			if len(chunks) == 0 {
				return fmt.Errorf("no text extracted from the source")
			}
			return trainDocumentationBatch(cmd, chunks)
		}

		req := training.Request{}
		switch {
		case doc != "":
			req.Documentation = &training.DocumentationEntry{Text: doc}
		case question != "" || sqlText != "":
			req.SQL = &training.SQLExample{Question: question, Query: sqlText}
		case ddl != "":
			req.DDL = &training.SchemaStatement{DDL: ddl}
		default:
			return fmt.Errorf("one of --question/--sql, --ddl, --doc, --pdf, or --url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/training-data", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored training data %s", result["id"])
		return nil
	},
}

func trainDocumentationBatch(cmd *cobra.Command, chunks []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/training-data/batch", map[string][]string{
		"documentation": chunks,
	})
	if err != nil {
		return err
	}
	var result struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	printSuccess("Stored %d documentation chunks", len(result.IDs))
	return nil
}

func init() {
	trainCmd.Flags().String("question", "", "question for a SQL example (use with --sql)")
	trainCmd.Flags().String("sql", "", "SQL answer for the question")
	trainCmd.Flags().String("ddl", "", "schema DDL statement")
	trainCmd.Flags().String("doc", "", "free-text documentation")
	trainCmd.Flags().String("pdf", "", "PDF file to extract documentation from")
	trainCmd.Flags().String("url", "", "web page to extract documentation from")
}

// --- training ---

var trainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Inspect or remove stored training data",
}

var trainingListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored training data",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/training-data")
		if err != nil {
			return err
		}
		var listing struct {
			Data []training.Row `json:"data"`
		}
		if err := decodeJSON(resp, &listing); err != nil {
			return err
		}

		if len(listing.Data) == 0 {
			fmt.Println("No training data stored.")
			return nil
		}

		for _, row := range listing.Data {
			content := row.Content
			if len(content) > 80 {
				content = content[:80] + "..."
			}
			content = strings.ReplaceAll(content, "\n", " ")
			if row.Question != nil {
				fmt.Printf("%s  %s  %s  %s\n",
					colorize(colorCyan, row.ID), row.Type, *row.Question, content)
			} else {
				fmt.Printf("%s  %s  %s\n", colorize(colorCyan, row.ID), row.Type, content)
			}
		}
		return nil
	},
}

var trainingRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove one training item by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/training-data/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result["removed"] {
			printWarning("Unrecognized identifier suffix on %s, nothing removed", args[0])
			return nil
		}
		printSuccess("Removed training data %s", args[0])
		return nil
	},
}

var trainingResetCmd = &cobra.Command{
	Use:   "reset <collection>",
	Short: "Empty one collection (sql, ddl or documentation)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/training-data/reset", map[string]string{
			"collection": args[0],
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Emptied the %s collection", args[0])
		return nil
	},
}

func init() {
	trainingCmd.AddCommand(trainingListCmd)
	trainingCmd.AddCommand(trainingRemoveCmd)
	trainingCmd.AddCommand(trainingResetCmd)
}

// --- purge ---

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Destroy the active vector store namespace",
	Long: `Destroy the active vector store namespace and all training data in
it. The next serve creates a fresh, empty namespace. The server must be
stopped first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		name, err := vector.ActiveNamespace(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Println("No vector store namespace to purge.")
			return nil
		}

		if !confirm {
			printWarning("This permanently deletes namespace %s and all training data in it.", name)
			printWarning("Re-run with --confirm to proceed.")
			return nil
		}

		if err := vector.DestroyNamespace(cfg.Storage.DataDir, name); err != nil {
			return err
		}
		printSuccess("Destroyed namespace %s", name)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Bool("confirm", false, "actually delete the namespace")
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the server's conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reset", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Conversation reset")
		return nil
	},
}
