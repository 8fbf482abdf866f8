package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tofagerl/mailmind/internal/config"
	"github.com/tofagerl/mailmind/internal/database"
	"github.com/tofagerl/mailmind/pkg/models"
)

const usage = `usage: mailmind-inspect <command> [flags]

commands:
  accounts     list accounts with processed records
  count        number of processed records
  stats        processed records per category
  search       find processed records
  categories   configured categories of an account
  cleanup      delete records older than -days
  reset        delete all records of an account

common flags:
  -db string       database path (default DATABASE_PATH)
  -format string   text, json or yaml (default "text")
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options shared by every command
type options struct {
	db     string
	driver string
	format string

	account  string
	from     string
	to       string
	subject  string
	category string
	limit    int
	offset   int
	days     int
	yes      bool
}

func parseFlags(cmd string, args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&opts.db, "db", "", "database path")
	fs.StringVar(&opts.driver, "driver", "", "database driver: sqlite3 or sqlite")
	fs.StringVar(&opts.format, "format", "text", "output format: text, json or yaml")
	fs.StringVar(&opts.account, "account", "", "account name")

	switch cmd {
	case "search":
		fs.StringVar(&opts.from, "from", "", "sender contains")
		fs.StringVar(&opts.to, "to", "", "recipient contains")
		fs.StringVar(&opts.subject, "subject", "", "subject contains")
		fs.StringVar(&opts.category, "category", "", "category")
		fs.IntVar(&opts.limit, "limit", database.DefaultQueryLimit, "maximum records")
		fs.IntVar(&opts.offset, "offset", 0, "records to skip")
	case "cleanup":
		fs.IntVar(&opts.days, "days", 0, "retention in days (default STATE_RETENTION_DAYS)")
	case "reset":
		fs.BoolVar(&opts.yes, "yes", false, "confirm deletion")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch opts.format {
	case "text", "json", "yaml":
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.format)
	}
	return opts, nil
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "accounts", "count", "stats", "search", "categories", "cleanup", "reset":
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	opts, err := parseFlags(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.db == "" {
		opts.db = cfg.DatabasePath
	}
	if opts.driver == "" {
		opts.driver = cfg.DatabaseDriver
	}
	if opts.days == 0 {
		opts.days = cfg.StateRetentionDays
	}

	db, err := database.New(opts.db, opts.driver)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	return execute(ctx, db, cmd, opts, out)
}

func execute(ctx context.Context, db *database.DB, cmd string, opts *options, out io.Writer) error {
	switch cmd {
	case "accounts":
		accounts, err := db.Accounts(ctx)
		if err != nil {
			return err
		}
		return render(out, opts.format, accounts, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "ACCOUNT")
			for _, a := range accounts {
				fmt.Fprintln(w, a)
			}
		})

	case "count":
		n, err := db.CountProcessed(ctx, opts.account)
		if err != nil {
			return err
		}
		result := map[string]any{"account": opts.account, "count": n}
		return render(out, opts.format, result, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, n)
		})

	case "stats":
		stats, err := db.CategoryStats(ctx, opts.account)
		if err != nil {
			return err
		}
		return render(out, opts.format, stats, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "CATEGORY\tCOUNT")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\n", s.Category, s.Count)
			}
		})

	case "search":
		records, err := db.SearchProcessed(ctx, database.ProcessedFilter{
			Account:  opts.account,
			From:     opts.from,
			To:       opts.to,
			Subject:  opts.subject,
			Category: opts.category,
			Limit:    opts.limit,
			Offset:   opts.offset,
		})
		if err != nil {
			return err
		}
		return render(out, opts.format, records, func(w *tabwriter.Writer) {
			writeRecords(w, records)
		})

	case "categories":
		if opts.account == "" {
			return errors.New("-account is required")
		}
		cats, err := db.Categories(ctx, opts.account)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("no categories stored for account %q", opts.account)
			}
			return err
		}
		return render(out, opts.format, cats, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "NAME\tFOLDER\tDESCRIPTION")
			for _, c := range cats {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.TargetFolder(), c.Description)
			}
		})

	case "cleanup":
		n, err := db.Cleanup(ctx, opts.days)
		if err != nil {
			return err
		}
		result := map[string]any{"deleted": n, "retention_days": opts.days}
		return render(out, opts.format, result, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "deleted %d records older than %d days\n", n, opts.days)
		})

	case "reset":
		if opts.account == "" {
			return errors.New("-account is required")
		}
		if !opts.yes {
			return errors.New("reset deletes all records of the account; pass -yes to confirm")
		}
		n, err := db.DeleteAccount(ctx, opts.account)
		if err != nil {
			return err
		}
		result := map[string]any{"account": opts.account, "deleted": n}
		return render(out, opts.format, result, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "deleted %d records of %s\n", n, opts.account)
		})
	}

	return fmt.Errorf("unknown command %q", cmd)
}

func writeRecords(w *tabwriter.Writer, records []models.ProcessedRecord) {
	fmt.Fprintln(w, "PROCESSED\tACCOUNT\tCATEGORY\tFROM\tSUBJECT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ProcessedAt.Local().Format(time.DateTime),
			r.AccountName,
			r.Category,
			r.FromAddr,
			truncate(r.Subject, 60),
		)
	}
}

// render writes v as JSON or YAML, or calls text with a tabwriter
func render(out io.Writer, format string, v any, text func(w *tabwriter.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		text(w)
		return w.Flush()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
