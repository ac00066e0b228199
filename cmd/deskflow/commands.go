package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/deskflow/internal/api"
	"github.com/kalambet/deskflow/internal/automation"
	"github.com/kalambet/deskflow/internal/config"
	"github.com/kalambet/deskflow/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a support query through retrieval, classification and automation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		email, _ := cmd.Flags().GetString("email")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", automation.Query{
			Text:      strings.Join(args, " "),
			TopK:      topK,
			UserEmail: email,
		})
		if err != nil {
			return err
		}

		var result automation.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		renderResponse(cmd.OutOrStdout(), result)
		return nil
	},
}

func renderResponse(w io.Writer, r automation.Response) {
	fmt.Fprintf(w, "%s %s (confidence %.2f)\n", colorize(colorBold, "Intent:"), r.Intent, r.Confidence)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Decision:"), r.Decision)
	switch {
	case r.Automation.DraftLocation != "":
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Draft:"), r.Automation.DraftLocation)
	case r.Automation.Ticket != nil:
		fmt.Fprintf(w, "%s %s (%s)\n", colorize(colorBold, "Ticket:"), r.Automation.Ticket.TicketID, r.Automation.Ticket.Subject)
	}
	for i, res := range r.Results {
		fmt.Fprintf(w, "  %d. [%.3f] %s\n", i+1, res.Score, truncate(res.Meta.Text, 100))
	}
}

func init() {
	queryCmd.Flags().Int("top-k", 0, "number of passages to retrieve (server default when 0)")
	queryCmd.Flags().String("email", "", "recipient for the draft or ticket")
	queryCmd.Flags().Bool("json", false, "print the raw response")
}

// --- drafts ---

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Review stored drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts (pending review by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/drafts"
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var records []storage.Record
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}
		renderRecords(cmd.OutOrStdout(), records)
		return nil
	},
}

func renderRecords(w io.Writer, records []storage.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No drafts found.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s  %-16s  %.2f  %s  %s\n",
			colorize(colorCyan, r.TicketID),
			r.Status,
			r.Confidence,
			r.UpdatedAt.Format("2006-01-02 15:04"),
			truncate(r.Subject, 60),
		)
	}
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/drafts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var rec storage.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

// draftAction posts to /drafts/{id}/{action} and reports the new status.
func draftAction(action, past string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.post(cmd.Context(), "/drafts/"+url.PathEscape(args[0])+"/"+action, nil)
			if err != nil {
				return err
			}

			var rec storage.Record
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
			printSuccess("%s draft %s (%s)", past, rec.TicketID, rec.Status)
			return nil
		},
	}
}

var draftsSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Move a draft to any status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/drafts/"+url.PathEscape(args[0]), map[string]string{"status": args[1]})
		if err != nil {
			return err
		}

		var rec storage.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSuccess("Draft %s is now %s", rec.TicketID, rec.Status)
		return nil
	},
}

func init() {
	draftsListCmd.Flags().String("status", "", "comma-separated statuses, e.g. APPROVED,SENT")
	draftsCmd.AddCommand(draftsListCmd)
	draftsCmd.AddCommand(draftsShowCmd)
	draftsCmd.AddCommand(draftAction("approve", "Approved"))
	draftsCmd.AddCommand(draftAction("send", "Sent"))
	draftsCmd.AddCommand(draftsSetStatusCmd)
}

// --- tickets ---

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Inspect escalation tickets",
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalation tickets, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/tickets?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var tickets []storage.Ticket
		if err := decodeJSON(resp, &tickets); err != nil {
			return err
		}
		renderTickets(cmd.OutOrStdout(), tickets)
		return nil
	},
}

func renderTickets(w io.Writer, tickets []storage.Ticket) {
	if len(tickets) == 0 {
		fmt.Fprintln(w, "No tickets found.")
		return
	}
	for _, t := range tickets {
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			colorize(colorCyan, t.TicketID),
			t.CreatedAt.Format("2006-01-02 15:04"),
			t.UserEmail,
			truncate(t.Subject, 60),
		)
	}
}

var ticketsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tickets/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var t storage.Ticket
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

func init() {
	ticketsListCmd.Flags().Int("limit", 20, "maximum number of tickets to list")
	ticketsListCmd.Flags().Int("offset", 0, "number of tickets to skip")
	ticketsCmd.AddCommand(ticketsListCmd)
	ticketsCmd.AddCommand(ticketsShowCmd)
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the retrieval index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reload the corpus and rebuild the retrieval index",
	RunE: func(cmd *cobra.Command, args []string) error {
		corpusDir, _ := cmd.Flags().GetString("corpus")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Rebuilding index...")
		resp, err := client.post(cmd.Context(), "/rebuild", map[string]string{"corpus": corpusDir})
		if err != nil {
			return err
		}

		var result struct {
			Message   string `json:"message"`
			Backend   string `json:"backend"`
			Documents int    `json:"documents"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s: %d documents on the %s backend", result.Message, result.Documents, result.Backend)
		return nil
	},
}

func init() {
	indexRebuildCmd.Flags().String("corpus", "", "corpus directory (server's corpus.dir when empty)")
	indexCmd.AddCommand(indexRebuildCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document to the knowledge base",
	Long: `Add a document to the knowledge base. The server indexes it in the
background.

Examples:
  deskflow ingest --text "Refunds over $500 need a manager sign-off" --title "Refund limits"
  deskflow ingest --file ./faq/shipping.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		req, err := buildIngestRequest(text, file, title)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result api.IngestResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued doc %s", result.ID)
		return nil
	},
}

func buildIngestRequest(text, file, title string) (api.IngestRequest, error) {
	switch {
	case text != "" && file != "":
		return api.IngestRequest{}, fmt.Errorf("use only one of --text or --file")
	case text != "":
		return api.IngestRequest{Title: title, Content: text, Source: "cli"}, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return api.IngestRequest{}, fmt.Errorf("reading file: %w", err)
		}
		if title == "" {
			title = file
		}
		return api.IngestRequest{Title: title, Content: string(data), Source: "cli"}, nil
	}
	return api.IngestRequest{}, fmt.Errorf("one of --text or --file is required")
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nconfig file: %s\n", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
