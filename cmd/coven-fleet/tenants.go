// ABOUTME: tenants subcommand: prints stored tenants as a table
// ABOUTME: Reads the store directly; tokens are shown only as previews

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/2389/coven-fleet/internal/store"
)

// parseTenantFilter reads the tenants flags.
func parseTenantFilter(args []string) (store.Filter, error) {
	fs := flag.NewFlagSet("tenants", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	team := fs.String("team", "", "only tenants of this team id")
	nluFlag := fs.String("nlu", "", "only tenants with NLU on (true) or off (false)")
	if err := fs.Parse(args); err != nil {
		return store.Filter{}, err
	}

	filter := store.Filter{TeamID: *team}
	if *nluFlag != "" {
		active, err := strconv.ParseBool(*nluFlag)
		if err != nil {
			return store.Filter{}, fmt.Errorf("--nlu: %w", err)
		}
		filter.NLUActive = &active
	}
	return filter, nil
}

func renderTenants(w io.Writer, tenants []*store.Tenant) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Team", "Team ID", "Bot", "Token", "Created By", "NLU", "First Run", "Created"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")

	for _, t := range tenants {
		created := ""
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		table.Append([]string{
			t.Team,
			t.TeamID,
			t.BotUserID,
			t.Preview(),
			t.CreatedBy,
			strconv.FormatBool(t.NLUActive),
			strconv.FormatBool(t.FirstRun),
			created,
		})
	}
	table.Render()
}

func runTenants(ctx context.Context, args []string) error {
	filter, err := parseTenantFilter(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	// store chatter would interleave with the table
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.Open(ctx, cfg.Database.URL, quiet)
	if err != nil {
		return fmt.Errorf("opening tenant store: %w", err)
	}
	defer s.Close()

	tenants, err := s.FindAll(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	if len(tenants) == 0 {
		fmt.Println("no tenants")
		return nil
	}

	renderTenants(os.Stdout, tenants)
	fmt.Printf("\n%d tenant(s) in %s\n", len(tenants), redactURL(cfg.Database.URL))
	return nil
}

// redactURL hides the password of a store URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
