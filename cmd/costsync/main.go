// costsync - cloud cost warehouse sync
//
// Usage:
//   costsync sync [--raw-only] [--dry-run] [--months-back N]
//   costsync test-connection
//   costsync test-s3
//
// Copies cloud billing exports from object storage into a relational
// warehouse, keeping the raw columns verbatim and projecting them into a
// normalized cross-provider schema unioned under the costs view.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"cloudcost-etl/db/warehouse"
	"cloudcost-etl/internal/pipeline"
	"cloudcost-etl/internal/source"
	"cloudcost-etl/pkg/costmodel"
	"cloudcost-etl/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Local development reads credentials from .env; absence is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "costsync",
		Usage:   "Sync cloud billing exports into the cost warehouse",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "backend",
				Value:   "postgres",
				Usage:   "Warehouse backend (postgres, clickhouse)",
				EnvVars: []string{"WAREHOUSE_BACKEND"},
			},

			&cli.StringFlag{Name: "postgres-host", Value: "localhost", EnvVars: []string{"POSTGRES_HOST"}},
			&cli.IntFlag{Name: "postgres-port", Value: 5432, EnvVars: []string{"POSTGRES_PORT"}},
			&cli.StringFlag{Name: "postgres-db", Value: "postgres", EnvVars: []string{"POSTGRES_DB"}},
			&cli.StringFlag{Name: "postgres-user", Value: "postgres", EnvVars: []string{"POSTGRES_USER"}},
			&cli.StringFlag{Name: "postgres-password", EnvVars: []string{"POSTGRES_PASSWORD"}},
			&cli.StringFlag{Name: "postgres-sslmode", Value: "disable", EnvVars: []string{"POSTGRES_SSLMODE"}},
			&cli.StringFlag{Name: "schema", Value: "cost_analytics", Usage: "Destination schema/database namespace", EnvVars: []string{"POSTGRES_SCHEMA"}},

			&cli.StringFlag{Name: "clickhouse-host", Value: "localhost", EnvVars: []string{"CLICKHOUSE_HOST"}},
			&cli.IntFlag{Name: "clickhouse-port", Value: 9000, EnvVars: []string{"CLICKHOUSE_PORT"}},
			&cli.StringFlag{Name: "clickhouse-user", Value: "default", EnvVars: []string{"CLICKHOUSE_USER"}},
			&cli.StringFlag{Name: "clickhouse-password", EnvVars: []string{"CLICKHOUSE_PASSWORD"}},

			&cli.StringFlag{Name: "s3-bucket", Usage: "Billing export bucket", EnvVars: []string{"S3_BUCKET"}},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint override", EnvVars: []string{"S3_ENDPOINT"}},
			&cli.StringFlag{Name: "aws-region", Value: "eu-west-2", EnvVars: []string{"AWS_REGION"}},
			&cli.StringFlag{Name: "aws-access-key-id", EnvVars: []string{"AWS_ACCESS_KEY_ID"}},
			&cli.StringFlag{Name: "aws-secret-access-key", EnvVars: []string{"AWS_SECRET_ACCESS_KEY"}},

			&cli.StringFlag{
				Name:    "cur-paths",
				Usage:   "Comma-separated CUR path prefixes (e.g. 'cup/CUP-Cost-Usage-Report/')",
				EnvVars: []string{"CUR_PATHS"},
			},
			&cli.StringSliceFlag{
				Name:  "export",
				Usage: "Extra billing export, as provider:format:path[:name] (e.g. gcp:parquet:exports/gcp/)",
			},
			&cli.StringFlag{
				Name:    "accounts",
				Usage:   "Comma-separated account filter entries, 'id' or 'id=region'",
				EnvVars: []string{"ACCOUNT_FILTER"},
			},
		},

		Before: func(c *cli.Context) error {
			platform.InitLogger(c.String("log-level"))
			return nil
		},

		Commands: []*cli.Command{
			syncCommand(),
			testConnectionCommand(),
			testS3Command(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the sync: extract, normalize and load every configured source",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "raw-only", Usage: "Only load raw tables, skip normalization and the view"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be done without loading"},
			&cli.IntFlag{Name: "months-back", Value: 1, Usage: "Month partitions to read per source", EnvVars: []string{"MONTHS_BACK"}},
			&cli.IntFlag{Name: "batch-size", Value: 10000, Usage: "Rows per destination transaction", EnvVars: []string{"BATCH_SIZE"}},
			&cli.IntFlag{Name: "chunk-rows", Value: 100000, Usage: "Rows per origin query chunk", EnvVars: []string{"CHUNK_ROWS"}},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	sources, err := buildSources(c)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured: set --cur-paths or --export")
	}

	opts := pipeline.Options{
		BatchSize: c.Int("batch-size"),
		RawOnly:   c.Bool("raw-only"),
		DryRun:    c.Bool("dry-run"),
		Extract: source.ExtractOptions{
			MonthsBack: c.Int("months-back"),
			ChunkRows:  c.Int("chunk-rows"),
		},
	}

	var store warehouse.Store
	if !opts.DryRun {
		store, err = openStore(c)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	result, err := pipeline.New(store, sources, opts).Run(c.Context)
	if err != nil {
		return err
	}

	fmt.Printf("Sync completed. Total rows loaded: %d\n", result.TotalRows)
	for _, sr := range result.Sources {
		status := "ok"
		if sr.State.Failed() {
			status = fmt.Sprintf("FAILED (%s)", sr.State)
		}
		fmt.Printf("  %-24s %-20s rows=%d skipped=%d\n", sr.Source, status, sr.Rows, sr.Skipped)
	}
	if len(result.ViewTables) > 0 {
		fmt.Printf("costs view unions: %s\n", strings.Join(result.ViewTables, ", "))
	}
	return nil
}

func testConnectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "test-connection",
		Usage: "Verify the warehouse connection",
		Action: func(c *cli.Context) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Ping(c.Context); err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}
			if pg, ok := store.(*warehouse.Postgres); ok {
				version, err := pg.Version(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("Connected. %s\n", version)
				return nil
			}
			fmt.Println("Connected.")
			return nil
		},
	}
}

func testS3Command() *cli.Command {
	return &cli.Command{
		Name:  "test-s3",
		Usage: "List parquet objects under every configured CUR path",
		Action: func(c *cli.Context) error {
			bucket := c.String("s3-bucket")
			if bucket == "" {
				return fmt.Errorf("--s3-bucket is required")
			}
			lister, err := source.NewLister(c.Context, c.String("aws-region"), bucket)
			if err != nil {
				return err
			}
			for _, path := range curPaths(c) {
				summary, err := lister.Summarize(c.Context, path)
				if err != nil {
					return err
				}
				fmt.Printf("s3://%s/%s\n", bucket, path)
				fmt.Printf("  objects=%d parquet=%d bytes=%d\n",
					summary.ObjectCount, summary.ParquetKeys, summary.TotalBytes)
				if summary.SampleKey != "" {
					fmt.Printf("  sample: %s\n", summary.SampleKey)
				}
			}
			return nil
		},
	}
}

func openStore(c *cli.Context) (warehouse.Store, error) {
	switch c.String("backend") {
	case "postgres":
		return warehouse.NewPostgres(warehouse.PostgresConfig{
			Host:     c.String("postgres-host"),
			Port:     c.Int("postgres-port"),
			Database: c.String("postgres-db"),
			User:     c.String("postgres-user"),
			Password: c.String("postgres-password"),
			SSLMode:  c.String("postgres-sslmode"),
			Schema:   c.String("schema"),
		})
	case "clickhouse":
		return warehouse.NewClickHouse(warehouse.ClickHouseConfig{
			Host:     c.String("clickhouse-host"),
			Port:     c.Int("clickhouse-port"),
			Database: c.String("schema"),
			Username: c.String("clickhouse-user"),
			Password: c.String("clickhouse-password"),
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", c.String("backend"))
	}
}

func storageConfig(c *cli.Context) source.StorageConfig {
	return source.StorageConfig{
		Region:          c.String("aws-region"),
		AccessKeyID:     c.String("aws-access-key-id"),
		SecretAccessKey: c.String("aws-secret-access-key"),
		Bucket:          c.String("s3-bucket"),
		Endpoint:        c.String("s3-endpoint"),
	}
}

func curPaths(c *cli.Context) []string {
	var paths []string
	for _, p := range strings.Split(c.String("cur-paths"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func buildSources(c *cli.Context) ([]source.Source, error) {
	storage := storageConfig(c)

	accounts, err := source.ParseAccountFilter(strings.Split(c.String("accounts"), ","))
	if err != nil {
		return nil, err
	}

	var sources []source.Source
	for _, path := range curPaths(c) {
		src, err := source.NewCURSource(storage, path, accounts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	for _, spec := range c.StringSlice("export") {
		src, err := parseExport(storage, spec)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// parseExport reads provider:format:path[:name].
func parseExport(storage source.StorageConfig, spec string) (source.Source, error) {
	parts := strings.SplitN(spec, ":", 4)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid export spec %q, want provider:format:path[:name]", spec)
	}
	provider := costmodel.CloudProvider(parts[0])
	switch provider {
	case costmodel.AWS, costmodel.GCP, costmodel.Azure:
	default:
		return nil, fmt.Errorf("unknown provider %q in export spec", parts[0])
	}
	name := ""
	if len(parts) == 4 {
		name = parts[3]
	}
	return source.NewBillingExportSource(storage, parts[2], name, provider, source.ExportFormat(parts[1]))
}
