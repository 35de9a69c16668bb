package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/cli"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
)

var (
	sessionsLimit  int
	sessionsOutput string
	sessionsServer string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions from the journal",
	Long: `List recent sessions, newest first.

By default the Badger journal at journal.dir (JOURNAL_DIR) is opened
directly; it cannot be opened while a server holds it. Use --server to
ask a running server instead.`,
	Example: `  voicebridge sessions
  voicebridge sessions --server http://localhost:3000 -o yaml`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "maximum number of sessions")
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "output format: table, yaml or json")
	sessionsCmd.Flags().StringVar(&sessionsServer, "server", "", "base URL of a running voicebridge server")
	rootCmd.AddCommand(sessionsCmd)
}

// recordList shows journal records as a table.
type recordList []journal.Record

func (recordList) TableHeader() []string {
	return []string{"ID", "STARTED", "DURATION", "REASON", "TURNS", "UTTERANCES", "BARGE-INS", "RECORDING"}
}

func (l recordList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		reason := r.Reason
		if r.Error != "" {
			reason += " (" + r.Error + ")"
		}
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			cli.FormatDuration(r.Duration()),
			reason,
			strconv.Itoa(r.Turns),
			strconv.Itoa(r.Utterances),
			strconv.Itoa(r.BargeIns),
			r.Recording,
		})
	}
	return rows
}

func runSessions(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(sessionsOutput)
	if err != nil {
		return err
	}

	var records []journal.Record
	if sessionsServer != "" {
		resp, err := fetchSessions(cmd.Context(), sessionsServer, sessionsLimit)
		if err != nil {
			return err
		}
		records = resp.Recent
		if len(resp.Active) > 0 && format == cli.FormatTable {
			cli.PrintInfo(cmd.OutOrStdout(), "active: %s", strings.Join(resp.Active, ", "))
		}
	} else {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.Journal.Dir == "" {
			return errors.New("journal.dir (JOURNAL_DIR) is not set; use --server to query a running server")
		}
		store, err := openJournal(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if records, err = journal.Collect(cmd.Context(), store, sessionsLimit); err != nil {
			return err
		}
	}

	if len(records) == 0 && format == cli.FormatTable {
		cli.PrintInfo(cmd.OutOrStdout(), "no sessions")
		return nil
	}
	return cli.Output(recordList(records), cli.OutputOptions{
		Format: format,
		Writer: cmd.OutOrStdout(),
	})
}

func fetchSessions(ctx context.Context, base string, limit int) (*sessionsResponse, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/sessions")
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if limit > 0 {
		u.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	var out sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return &out, nil
}
