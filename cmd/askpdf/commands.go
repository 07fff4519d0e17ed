package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalambet/askpdf/internal/config"
	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/pipeline"
	"github.com/kalambet/askpdf/internal/session"
)

// localApp loads configuration and wires an in-process app for commands
// that do not need a running server.
func localApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return buildApp(ctx, cfg, os.Stderr)
}

func ingestInto(ctx context.Context, s *session.Session, paths []string) (pipeline.Result, error) {
	docs, err := readDocuments(paths)
	if err != nil {
		return pipeline.Result{}, err
	}
	progress := newIngestProgress(interactive())
	res, err := s.Upload(ctx, docs, progress.update)
	progress.finish()
	if err != nil {
		return res, err
	}
	printSuccess("Indexed %d documents (%d characters) as %d chunks into %s",
		len(res.Documents), res.Characters, res.Chunks, res.Handle.Name)
	return res, nil
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>...",
	Short: "Extract, chunk and index PDF files",
	Long: `Extract, chunk and index PDF files into the configured vector index.

Examples:
  askpdf ingest report.pdf
  askpdf ingest contracts/*.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("at least one PDF file is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := localApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = ingestInto(ctx, a.sessions.GetOrCreate(cliSession), args)
		return err
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [file.pdf...]",
	Short: "Ask questions interactively",
	Long: `Start an interactive question-answering session.

With PDF arguments the files are ingested first. Without arguments the
conversation runs over whatever the index already holds.

Inside the session:
  /history  show the conversation so far
  /reset    forget the conversation
  /quit     leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showSources, _ := cmd.Flags().GetBool("sources")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := localApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.sessions.GetOrCreate(cliSession)
		if len(args) > 0 {
			if _, err := ingestInto(ctx, s, args); err != nil {
				return err
			}
		} else if err := s.Resume(ctx); err != nil {
			return err
		}

		if term.IsTerminal(int(os.Stdin.Fd())) {
			printStep("Ask a question (/quit to leave)")
		}
		return runREPL(ctx, s, os.Stdin, os.Stdout, replOptions{
			spinner:     interactive(),
			showSources: showSources,
		})
	},
}

func init() {
	chatCmd.Flags().Bool("sources", false, "print the excerpts each answer is based on")
}

// chatSession is the part of session.Session the REPL drives.
type chatSession interface {
	Ask(ctx context.Context, question string) (conversation.Answer, error)
	Resume(ctx context.Context) error
	Reset()
	History() []conversation.Message
}

type replOptions struct {
	spinner     bool
	showSources bool
}

// runREPL reads questions line by line from in until EOF or /quit.
func runREPL(ctx context.Context, s chatSession, in io.Reader, out io.Writer, opts replOptions) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(colorBold, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			printHistory(out, s.History())
			continue
		case "/reset":
			s.Reset()
			if err := s.Resume(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, colorize(colorGreen, "✓ conversation reset"))
			continue
		}

		stop := startSpinner(opts.spinner, "thinking")
		ans, err := s.Ask(ctx, line)
		stop()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var genErr *conversation.GenerationError
			if errors.As(err, &genErr) && genErr.Retryable {
				fmt.Fprintln(out, colorize(colorYellow, "⚠ the model timed out, try again"))
				continue
			}
			fmt.Fprintln(out, colorize(colorRed, "✗ "+err.Error()))
			continue
		}

		fmt.Fprintln(out, ans.Text)
		if opts.showSources {
			for _, c := range ans.Sources {
				fmt.Fprintf(out, "  %s %s\n", colorize(colorCyan, fmt.Sprintf("[%s %.2f]", c.ID, c.Score)), excerpt(c.Text, 100))
			}
		}
	}
}

func printHistory(out io.Writer, history []conversation.Message) {
	if len(history) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return
	}
	for _, m := range history {
		fmt.Fprintf(out, "%s %s\n", colorize(colorBold, m.Speaker.String()+":"), m.Text)
	}
}

func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return text
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []struct {
			Name       string `json:"name"`
			Pages      int    `json:"pages"`
			Characters int    `json:"characters"`
			IndexName  string `json:"index_name"`
			BatchID    string `json:"batch_id"`
			CreatedAt  string `json:"created_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %s  %d pages  %d chars  %s\n",
				colorize(colorCyan, shortID(d.BatchID)),
				d.CreatedAt,
				d.Pages,
				d.Characters,
				d.Name,
			)
		}
		return nil
	},
}

func init() {
	documentsCmd.Flags().Int("limit", 20, "maximum number of documents to list")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List answered questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if sessionID != "" {
			q.Set("session", sessionID)
		}
		resp, err := client.get(cmd.Context(), "/interactions?"+q.Encode())
		if err != nil {
			return err
		}

		var interactions []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, shortID(ix.ID)),
				ix.CreatedAt,
				excerpt(ix.Question, 80),
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted interaction %s", args[0])
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	historyCmd.Flags().String("session", "", "only show interactions of this session")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Secrets (API keys, the server token) are stored with --secret. When the
value is omitted it is read from the terminal without echo.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetBool("secret")
		key := args[0]

		if !secret {
			if len(args) != 2 {
				return fmt.Errorf("a value is required for %s", key)
			}
			if err := config.SetKey(key, args[1]); err != nil {
				return err
			}
			printSuccess("Set %s = %s", key, args[1])
			return nil
		}

		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			v, err := readSecret(fmt.Sprintf("%s: ", key))
			if err != nil {
				return err
			}
			value = v
		}
		if value == "" {
			return fmt.Errorf("empty value for %s", key)
		}
		if err := config.SetSecret(key, value); err != nil {
			return err
		}
		printSuccess("Stored secret %s", key)
		return nil
	},
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	configSetCmd.Flags().Bool("secret", false, "store the value in the secret store")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
