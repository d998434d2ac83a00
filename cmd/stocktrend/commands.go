package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"stocktrend/internal/config"
	"stocktrend/internal/db"
	"stocktrend/internal/excel"
	"stocktrend/internal/logging"
	"stocktrend/internal/repository"
	"stocktrend/internal/service"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&checkCmd{}, "workbooks")
	c.Register(&importCmd{}, "workbooks")
	c.Register(&exportCmd{}, "series")
	c.Register(&migrateCmd{}, "database")
}

var logLevel = flag.String("log-level", "warn", "Log level: debug, info, warn or error")

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	url, err := config.DatabaseURL()
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return db.NewPool(ctx, url)
}

func openService(ctx context.Context) (*service.Service, func(), error) {
	pool, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger := logging.NewWithWriter(os.Stderr, *logLevel, "text")
	return service.New(repository.New(pool), nil, logger), pool.Close, nil
}

type checkCmd struct {
	asJSON bool
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "parses a workbook and prints its report without importing" }
func (*checkCmd) Usage() string {
	return `stocktrend check [-json] <file>

  Parses the first sheet of <file> (.xlsx or .csv) and prints the detected
  days, the number of valid rows, every warning and every error. Exits
  non-zero when the workbook would be rejected on upload.
`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "Print the full parse result as JSON")
}

func (c *checkCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: check takes exactly one file")
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	result, err := excel.ReadWorkbook(filepath.Base(path), file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
	} else {
		printReport(os.Stdout, result.Days, len(result.Rows), result.Warnings, result.Errors)
	}

	if len(result.Errors) > 0 || len(result.Rows) == 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printReport(w io.Writer, days []int, rows int, warnings, errs []string) {
	fmt.Fprintf(w, "days: %v\n", days)
	fmt.Fprintf(w, "rows: %d\n", rows)
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, e := range errs {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}

type importCmd struct{}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "imports a workbook into the database" }
func (*importCmd) Usage() string {
	return `stocktrend import <file>

  Runs the same import as the upload endpoint against DATABASE_URL and prints
  the upload response as JSON.
`
}

func (*importCmd) SetFlags(*flag.FlagSet) {}

func (*importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: import takes exactly one file")
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	svc, closeFn, err := openService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	result, err := svc.ImportWorkbook(ctx, filepath.Base(path), file, nil)
	if err != nil {
		var rejected *service.UploadRejectedError
		if errors.As(err, &rejected) {
			fmt.Fprintf(os.Stderr, "Rejected: %s\n", rejected.Message)
			printReport(os.Stderr, nil, 0, rejected.Warnings, rejected.Errors)
			return subcommands.ExitFailure
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type exportCmd struct {
	ids    string
	output string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "writes product series as CSV" }
func (*exportCmd) Usage() string {
	return `stocktrend export -ids 1,2 [-o file.csv]

  Writes Day,Product,Inventory,ProcurementAmount,SalesAmount rows for the
  given products, in the order given. Unknown ids are skipped.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ids, "ids", "", "Comma-separated product ids")
	f.StringVar(&c.output, "o", "", "Output file (default stdout)")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ids, err := parseIDs(c.ids)
	if err != nil || len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -ids must list at least one numeric product id")
		return subcommands.ExitUsageError
	}

	svc, closeFn, err := openService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	var out io.Writer = os.Stdout
	if c.output != "" {
		file, err := os.Create(c.output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		defer file.Close()
		out = file
	}
	if err := svc.ExportSeries(ctx, out, ids); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "applies pending database migrations" }
func (*migrateCmd) Usage() string {
	return `stocktrend migrate

  Applies the embedded schema migrations to DATABASE_URL.
`
}

func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pool, err := openPool(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer pool.Close()

	applied, err := db.RunMigrations(ctx, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(applied) == 0 {
		fmt.Println("schema is up to date")
		return subcommands.ExitSuccess
	}
	for _, version := range applied {
		fmt.Printf("applied %s\n", version)
	}
	return subcommands.ExitSuccess
}
