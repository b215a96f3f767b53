package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/tasklens/internal/advisor"
	"github.com/kalambet/tasklens/internal/config"
	"github.com/kalambet/tasklens/internal/openai"
	"github.com/kalambet/tasklens/internal/rebuild"
	"github.com/kalambet/tasklens/internal/storage"
	"github.com/kalambet/tasklens/internal/strategy"
	"github.com/kalambet/tasklens/internal/trajectory"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load tickets from a JSONL file into the server",
	Long: `Load tickets into the server's store. The input is JSONL: one ticket
object per line with key, summary, description, comments, assignee, created,
and optional resolved (RFC 3339 timestamps).

Examples:
  tasklens ingest --file ./tickets.jsonl
  jira-export | tasklens ingest --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		var in io.Reader
		if file == "-" {
			in = os.Stdin
		} else {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()
			in = f
		}

		tickets, err := readTicketLines(in)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			return fmt.Errorf("no tickets in input")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		total := 0
		for start := 0; start < len(tickets); start += ingestBatchSize {
			end := min(start+ingestBatchSize, len(tickets))
			resp, err := client.post(cmd.Context(), "/tickets", tickets[start:end])
			if err != nil {
				return err
			}
			var result struct {
				Ingested int `json:"ingested"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			total += result.Ingested
		}

		printSuccess("Stored %d tickets", total)
		printStep("Run `tasklens rebuild` to refresh the snapshot")
		return nil
	},
}

const ingestBatchSize = 500

// readTicketLines parses JSONL into raw ticket objects, skipping blank lines.
func readTicketLines(r io.Reader) ([]json.RawMessage, error) {
	var tickets []json.RawMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if !json.Valid([]byte(text)) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		tickets = append(tickets, json.RawMessage(text))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return tickets, nil
}

func init() {
	ingestCmd.Flags().String("file", "", "JSONL file of tickets, or - for stdin")
}

// --- rebuild ---

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-embed stored tickets and rebuild the analysis snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		themes, err := loadThemeOverrides(cmd)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		client := openai.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey)
		builder := rebuild.New(
			store,
			newEmbedder(client, cfg.OpenAI.EmbedModel),
			rebuild.NewChatNamer(client, cfg.OpenAI.ChatModel),
			rebuild.Config{
				EmbedModel:  cfg.OpenAI.EmbedModel,
				Concurrency: cfg.Rebuild.Concurrency,
				KMeansK:     cfg.Rebuild.KMeansK,
				Seed:        int64(cfg.Rebuild.Seed),
				Strategy: strategy.Config{
					Windows:       cfg.Strategy.Windows,
					MinWindowSize: cfg.Strategy.MinWindowSize,
				},
				ThemeOverrides: themes,
			},
			logger,
		)

		snap, err := builder.Run(cmd.Context(), snapshotDir(cfg.Storage.DataDir))
		if err != nil {
			return err
		}
		printSuccess("Snapshot %s built (%d tickets, %d clusters)",
			snap.Manifest.ID, snap.Manifest.Count, len(snap.Clusters.Clusters))

		// Tell a running server to pick it up. Not fatal when it is down:
		// the snapshot loads on next start.
		apiClient, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := apiClient.post(cmd.Context(), "/api/reload", nil)
		if err != nil {
			printWarning("server not running, snapshot will load on next start")
			return nil
		}
		var manifest struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &manifest); err != nil {
			return err
		}
		printSuccess("Server reloaded snapshot %s", manifest.ID)
		return nil
	},
}

// loadThemeOverrides reads the optional --themes JSON file mapping cluster
// labels to curated theme names.
func loadThemeOverrides(cmd *cobra.Command) (map[string]string, error) {
	path, _ := cmd.Flags().GetString("themes")
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading themes file: %w", err)
	}
	var themes map[string]string
	if err := json.Unmarshal(data, &themes); err != nil {
		return nil, fmt.Errorf("parsing themes file: %w", err)
	}
	return themes, nil
}

func init() {
	rebuildCmd.Flags().String("themes", "", "JSON file of cluster label to theme overrides")
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text>",
	Short: "Analyze new ticket text against the ticket history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/analyze", map[string]string{"text": text})
		if err != nil {
			return err
		}

		var res advisor.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		renderAnalysis(os.Stdout, &res)
		return nil
	},
}

func renderAnalysis(w io.Writer, res *advisor.Result) {
	fmt.Fprintf(w, "%s %s (confidence %.2f)\n",
		colorize(colorBold, "Cluster:"), res.Cluster, res.Confidence)
	fmt.Fprintf(w, "%s (%.2f, %.2f)\n", colorize(colorBold, "Map position:"), res.UMAPPos.X, res.UMAPPos.Y)

	if len(res.Similar) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Similar tickets:"))
		for _, s := range res.Similar {
			fmt.Fprintf(w, "  %s [%.3f] %s (%s, %d)\n",
				colorize(colorCyan, s.Key), s.Similarity, s.Summary, s.Assignee, s.Year)
		}
	}

	if len(res.Experts) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Experts:"))
		for _, e := range res.Experts {
			fmt.Fprintf(w, "  %s (%d similar tickets, last %s)\n",
				e.Name, e.Count, e.Last.Format("2006-01"))
		}
	}

	if len(res.Risks) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Risks:"))
		for _, f := range res.Risks {
			fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, f.Kind+":"), f.Detail)
		}
	}
	if res.ReviewRecommended {
		fmt.Fprintf(w, "\n%s\n", colorize(colorYellow, "⚠ human review recommended"))
	}

	if res.Advice != "" {
		fmt.Fprintf(w, "\n%s %s\n", colorize(colorBold, "Advice:"), res.Advice)
	}
}

// --- scope ---

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Check whether a ticket's full text outgrew its title",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		text, _ := cmd.Flags().GetString("text")
		if title == "" || text == "" {
			return fmt.Errorf("--title and --text are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/scope-check", map[string]string{
			"title": title,
			"text":  text,
		})
		if err != nil {
			return err
		}

		var out scopeResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		renderScope(os.Stdout, out)
		return nil
	},
}

type scopeResponse struct {
	Report struct {
		Similarity     float32 `json:"similarity"`
		Expanded       bool    `json:"expanded"`
		ClusterChanged bool    `json:"cluster_changed"`
		TitleCluster   struct {
			Label string `json:"label"`
		} `json:"title_cluster"`
		FullCluster struct {
			Label string `json:"label"`
		} `json:"full_cluster"`
	} `json:"report"`
	Flags []struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	} `json:"flags"`
}

func renderScope(w io.Writer, out scopeResponse) {
	fmt.Fprintf(w, "%s %.3f\n", colorize(colorBold, "Title/text similarity:"), out.Report.Similarity)
	if out.Report.Expanded {
		fmt.Fprintln(w, colorize(colorYellow, "⚠ the full text goes beyond what the title promises"))
	} else {
		fmt.Fprintln(w, colorize(colorGreen, "✓ title and text agree"))
	}
	if out.Report.ClusterChanged {
		fmt.Fprintf(w, "  cluster moves from %s to %s\n",
			out.Report.TitleCluster.Label, out.Report.FullCluster.Label)
	}
	for _, f := range out.Flags {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, f.Kind+":"), f.Detail)
	}
}

func init() {
	scopeCmd.Flags().String("title", "", "ticket title")
	scopeCmd.Flags().String("text", "", "full ticket text")
}

// --- story ---

var storyCmd = &cobra.Command{
	Use:   "story <assignee>",
	Short: "Show an assignee's work story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/assignees/" + url.PathEscape(args[0]) + "/story"
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var story trajectory.Story
		if err := decodeJSON(resp, &story); err != nil {
			return err
		}

		renderStory(os.Stdout, &story)
		return nil
	},
}

func renderStory(w io.Writer, story *trajectory.Story) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Work story for"), story.Assignee)
	for _, p := range story.Phases {
		fmt.Fprintf(w, "\n%s %d tickets, mostly %s\n",
			colorize(colorBold, p.Name+":"), len(p.Keys), p.TopTheme)
		if p.Transitions > 0 {
			fmt.Fprintf(w, "  %.0f%% of moves aligned with strategy\n", p.AlignedPct)
		}
	}
	for _, s := range story.Shifts {
		fmt.Fprintf(w, "\n%s after %s: %s → %s\n",
			colorize(colorCyan, "shift"), s.After, s.From, s.To)
	}
	if story.Transitions > 0 {
		fmt.Fprintf(w, "\n%s %.0f%% over %d transitions\n",
			colorize(colorBold, "Strategy alignment:"), story.AlignedPct, story.Transitions)
	}
}

// --- strategy ---

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Show the team's strategy direction",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/strategy")
		if err != nil {
			return err
		}

		var strat strategy.Strategy
		if err := decodeJSON(resp, &strat); err != nil {
			return err
		}

		renderStrategy(os.Stdout, &strat)
		return nil
	},
}

func renderStrategy(w io.Writer, strat *strategy.Strategy) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Early period:"), strat.EarlyPeriod)
	for _, th := range strat.EarlyTop {
		fmt.Fprintf(w, "  %s (%d)\n", th.Name, th.Count)
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Recent period:"), strat.RecentPeriod)
	for _, th := range strat.RecentTop {
		fmt.Fprintf(w, "  %s (%d)\n", th.Name, th.Count)
	}
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
