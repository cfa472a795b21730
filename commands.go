// commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gewnthar/propcat/handlers"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/scraper"
	"github.com/gewnthar/propcat/services"
)

const dateLayout = "2006-01-02"

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "propcat",
		Short: "Distressed property catalog",
		Long: `propcat merges collector output (tax rolls, foreclosure listings, code
enforcement lists) into one record per property, keeps the change history of every
field, and scores each property for signs of abandonment.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logMode, "log-mode", "", "log mode: production or development (overrides config)")

	root.AddCommand(
		newServeCommand(a),
		newIngestCommand(a),
		newExportCommand(a),
		newStatsCommand(a),
		newMigrateCommand(a),
	)
	return root
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			h := handlers.New(services.NewCatalog(a.store), services.NewExporter(a.store), a.store, a.log)
			srv := &http.Server{
				Addr:         addr,
				Handler:      handlers.NewRouter(h, a.registry),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 120 * time.Second,
				IdleTimeout:  120 * time.Second,
			}
			return serve(cmd.Context(), a, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs srv until ctx is cancelled, then drains connections.
func serve(ctx context.Context, a *app, srv *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		a.log.Info("server stopped")
		return nil
	}
}

// ingestFlags are shared by the ingest subcommands.
type ingestFlags struct {
	source string
	file   string
	fuzzy  bool
	asOf   string
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "collector name recorded on every observation (required)")
	cmd.Flags().StringVar(&f.file, "file", "-", "input file, - for stdin")
	cmd.Flags().BoolVar(&f.fuzzy, "fuzzy", false, "also match near-identical addresses in the same city (default from matching.fuzzy_enabled)")
	cmd.Flags().StringVar(&f.asOf, "as-of", "", "date the data was published, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("source")
}

func (f *ingestFlags) observedAt() (time.Time, error) {
	if f.asOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, f.asOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: %w", f.asOf, err)
	}
	return t, nil
}

func (f *ingestFlags) open(cmd *cobra.Command) (io.ReadCloser, error) {
	if f.file == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(f.file)
}

func newIngestCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Merge collector output into the catalog",
	}
	cmd.AddCommand(newIngestCSVCommand(a), newIngestHTMLCommand(a))
	return cmd
}

func newIngestCSVCommand(a *app) *cobra.Command {
	var flags ingestFlags
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Ingest a county tax-delinquency roll",
		Example: `  propcat ingest csv --source sangamon-tax-roll --file delinquent_2024.csv --as-of 2024-05-01`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			observedAt, err := flags.observedAt()
			if err != nil {
				return err
			}
			in, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer in.Close()

			records, err := scraper.ParseTaxDelinquencyCSV(in, flags.source, observedAt)
			if err != nil {
				return err
			}
			return runIngest(cmd, a, flags, records)
		},
	}
	flags.register(cmd)
	return cmd
}

func newIngestHTMLCommand(a *app) *cobra.Command {
	var (
		flags     ingestFlags
		opts      scraper.TableOptions
		defaults  map[string]string
		columnMap map[string]string
	)
	cmd := &cobra.Command{
		Use:   "html",
		Short: "Ingest a saved foreclosure or auction listing page",
		Example: `  propcat ingest html --source sheriff-sales --file sales.html \
    --set foreclosure_status=auction --column "Sale Date=auction_date" \
    --link-field auction_url --base-url https://sheriff.example.gov/sales/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			observedAt, err := flags.observedAt()
			if err != nil {
				return err
			}
			in, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer in.Close()

			opts.Source = flags.source
			opts.ObservedAt = observedAt
			opts.Columns = columnMap
			if len(defaults) > 0 {
				opts.Defaults = make(map[string]any, len(defaults))
				for k, v := range defaults {
					opts.Defaults[k] = v
				}
			}
			records, err := scraper.ParseListingTable(in, opts)
			if err != nil {
				return err
			}
			return runIngest(cmd, a, flags, records)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&opts.Selector, "selector", "", "CSS selector of the listing table")
	cmd.Flags().StringToStringVar(&defaults, "set", nil, "field=value set on every row that lacks it")
	cmd.Flags().StringToStringVar(&columnMap, "column", nil, "header=field mapping for unusual column headers")
	cmd.Flags().StringVar(&opts.LinkField, "link-field", "", "field that receives each row's link")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "page URL, used to resolve relative links")
	return cmd
}

func runIngest(cmd *cobra.Command, a *app, flags ingestFlags, records []models.RawRecord) error {
	engine, err := a.engine(cmd.Context())
	if err != nil {
		return err
	}
	fuzzy := a.cfg.Matching.FuzzyEnabled
	if cmd.Flags().Changed("fuzzy") {
		fuzzy = flags.fuzzy
	}

	run, err := engine.IngestBatch(cmd.Context(), flags.source, records, services.Options{Fuzzy: fuzzy})
	if perr := printJSON(cmd.OutOrStdout(), run); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if run.Status == models.RunFailure {
		return fmt.Errorf("no records from %s could be applied", flags.source)
	}
	return nil
}

func newExportCommand(a *app) *cobra.Command {
	var (
		out           string
		f             models.Filters
		taxDelinquent string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write matching properties as CSV",
		Example: `  propcat export --state il --min-score 7 --out leads.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if taxDelinquent != "" {
				b, err := strconv.ParseBool(taxDelinquent)
				if err != nil {
					return fmt.Errorf("invalid --tax-delinquent %q", taxDelinquent)
				}
				f.TaxDelinquent = &b
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			n, err := services.NewExporter(a.store).WriteCSV(cmd.Context(), w, f)
			if err != nil {
				return err
			}
			a.log.Info("export written", "rows", n, "out", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&f.State, "state", "", "state code or name")
	cmd.Flags().StringVar(&f.County, "county", "", "county name")
	cmd.Flags().StringVar(&f.City, "city", "", "city name")
	cmd.Flags().StringVar(&f.Status, "status", "", "property status")
	cmd.Flags().IntVar(&f.MinScore, "min-score", 0, "minimum abandonment score")
	cmd.Flags().StringVar(&taxDelinquent, "tax-delinquent", "", "true or false")
	cmd.Flags().BoolVar(&f.InForeclosure, "in-foreclosure", false, "only properties in active foreclosure")
	cmd.Flags().IntVar(&f.MinTaxYears, "min-tax-years", 0, "only properties tax delinquent for at least this many years")
	cmd.Flags().IntVar(&f.DemolitionDays, "demolition-days", 0, "only demolitions scheduled within this many days")
	cmd.Flags().StringVar(&f.Search, "q", "", "address, city or owner substring")
	cmd.Flags().StringVar(&f.OrderBy, "order-by", "", "score, last_updated, discovery_date or demolition_date")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows, 0 for all")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := services.NewCatalog(a.store).Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Open has migrated already; this repeats it and reports the dialect.
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", a.store.Dialect().Name)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
