package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"goinfonet/adapters/db/postgres/migrations"
	"goinfonet/adapters/estimators"
	"goinfonet/adapters/excel"
	"goinfonet/adapters/postgres"
	"goinfonet/adapters/rng"
	"goinfonet/app"
	"goinfonet/domain/settings"
	"goinfonet/internal"
	"goinfonet/internal/api"
	"goinfonet/internal/comparison"
	"goinfonet/internal/config"
	"goinfonet/internal/results"
	"goinfonet/ports"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "netinfer",
		Short:         "Infer and compare information-theoretic networks from multivariate time series",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newAnalyseCmd(),
		newCompareCmd(),
		newExportCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// environment bundles the configuration and logger shared by every command
type environment struct {
	cfg    *config.Config
	logger *internal.Logger
}

func loadEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, logger: internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))}, nil
}

func (e *environment) openDB(ctx context.Context) (*sqlx.DB, error) {
	if !e.cfg.Database.Enabled() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return postgres.Open(ctx, e.cfg.Database.URL)
}

func (e *environment) service(repo ports.ResultsRepository) *app.NetworkService {
	return app.NewNetworkService(excel.NewDataReader(e.logger), repo, rng.NewStreamSource(), newEstimator, app.ServiceOptions{
		Workers:       e.cfg.Run.Workers,
		TargetWorkers: e.cfg.Run.TargetWorkers,
		Logger:        e.logger,
	})
}

func newEstimator(s settings.Settings) (ports.CMIEstimator, error) {
	return estimators.New(s.Estimator, estimators.Options{Bins: s.NBins, K: s.KraskovK})
}

func newAnalyseCmd() *cobra.Command {
	var settingsFile, output, targets string
	var store bool
	var seed uint64

	cmd := &cobra.Command{
		Use:   "analyse [data-file]",
		Short: "Infer the network of a CSV or XLSX time series",
		Long: `Infer a multivariate or bivariate transfer entropy or mutual information
network. Columns are processes and rows samples; an optional "replication"
column groups rows into replications.

Example: netinfer analyse data.csv --settings te.yaml --targets 0,2 --store`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			if settingsFile != "" {
				env.cfg.Paths.SettingsFile = settingsFile
			}
			s, err := env.cfg.AnalysisSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				s.Seed = seed
			}
			targetList, err := parseInts(targets)
			if err != nil {
				return err
			}

			var repo ports.ResultsRepository
			if store {
				db, err := env.openDB(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				repo = postgres.NewResultsRepository(db)
			}

			if output == "" {
				base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				output = filepath.Join(env.cfg.Paths.ResultsDir, base+"_network.json")
			}
			resp, err := env.service(repo).Analyse(cmd.Context(), app.AnalyseRequest{
				DataPath:   args[0],
				Settings:   s,
				Targets:    targetList,
				OutputPath: output,
				Store:      store,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Run %s: %d targets analysed, %d failures\n", resp.Results.RunID, len(resp.Results.Targets), len(resp.Results.Failures))
			edges, err := resp.Results.Edges(results.WeightLagFirst, false)
			if err != nil {
				return err
			}
			for _, e := range edges {
				fmt.Printf("  %s -> %s  lag %d  p %.4f\n", label(resp.ProcessNames, e.Source), label(resp.ProcessNames, e.Target), e.Lag, e.PValue)
			}
			for _, f := range resp.Results.Failures {
				fmt.Printf("  target %s failed (%s): %s\n", label(resp.ProcessNames, f.Target), f.Code, f.Message)
			}
			fmt.Printf("Results written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "", "YAML analysis settings (default: SETTINGS_FILE or built-in defaults)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Results JSON path (default: RESULTS_DIR/<data>_network.json)")
	cmd.Flags().StringVar(&targets, "targets", "", "Comma-separated target processes (default: all)")
	cmd.Flags().BoolVar(&store, "store", false, "Also store the results in PostgreSQL")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Override the settings seed")

	return cmd
}

func newCompareCmd() *cobra.Command {
	var groupA, groupB []string
	var within bool
	var output, statsType, tail string
	var nPerm int
	var alpha float64
	var seed uint64

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare inferred networks within or between subjects",
		Long: `Compare the link information of two conditions (--within) or two groups of
subjects. Each subject is given as results.json=data.csv.

Example: netinfer compare --within --a runA.json=a.csv --b runB.json=b.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			a, err := parseSubjects(groupA)
			if err != nil {
				return err
			}
			b, err := parseSubjects(groupB)
			if err != nil {
				return err
			}

			cs := settings.DefaultComparison()
			cs.NPerm = nPerm
			cs.Alpha = alpha
			cs.Tail = settings.Tail(tail)
			cs.StatsType = settings.StatsType(statsType)
			cs.Seed = seed

			res, err := env.service(nil).Compare(cmd.Context(), app.CompareRequest{GroupA: a, GroupB: b, Within: within, Settings: cs})
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(env.cfg.Paths.ResultsDir, "comparison_"+res.RunID.String()+".json")
			}
			if err := comparison.SaveFile(output, res); err != nil {
				return err
			}

			fmt.Printf("Comparison %s (%s): %d links in union, %d differ\n", res.RunID, res.Kind, len(res.Links), len(res.Significant()))
			for _, l := range res.Links {
				mark := ""
				if l.Significant {
					mark = " *"
				}
				fmt.Printf("  %d -> %d  diff %.4f  p %.4f%s\n", l.Source, l.Target, l.Difference, l.PValue, mark)
			}
			fmt.Printf("Comparison written to %s\n", output)
			return nil
		},
	}

	def := settings.DefaultComparison()
	cmd.Flags().StringArrayVar(&groupA, "a", nil, "Subject of group A as results.json=data-file (repeatable)")
	cmd.Flags().StringArrayVar(&groupB, "b", nil, "Subject of group B as results.json=data-file (repeatable)")
	cmd.Flags().BoolVar(&within, "within", false, "Compare two conditions of one subject")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Comparison JSON path")
	cmd.Flags().StringVar(&statsType, "stats-type", string(def.StatsType), "dependent or independent")
	cmd.Flags().StringVar(&tail, "tail", string(def.Tail), "one or two")
	cmd.Flags().IntVar(&nPerm, "n-perm", def.NPerm, "Number of permutations")
	cmd.Flags().Float64Var(&alpha, "alpha", def.Alpha, "Significance level")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed")

	return cmd
}

func newExportCmd() *cobra.Command {
	var output, weight, labels string
	var fdr, isComparison bool

	cmd := &cobra.Command{
		Use:   "export [results-file]",
		Short: "Export a network or comparison as node and edge tables",
		Long: `Write a node table and an edge list for graph visualisation tools. An .xlsx
output produces one workbook; otherwise <output>_nodes.csv and <output>_edges.csv.

Example: netinfer export run.json -o graph.xlsx --weight lag_max_statistic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}

			var nNodes int
			var edges []excel.EdgeRow
			if isComparison {
				res, err := comparison.LoadFile(args[0])
				if err != nil {
					return err
				}
				nNodes, edges = res.NNodes, excel.ComparisonEdges(res)
			} else {
				net, err := results.LoadFile(args[0])
				if err != nil {
					return err
				}
				nNodes = net.NNodes
				if edges, err = excel.NetworkEdges(net, results.WeightType(weight), fdr); err != nil {
					return err
				}
			}

			names := excel.Labels(nNodes)
			if labels != "" {
				names = strings.Split(labels, ",")
			}
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0]))
			}
			files, err := excel.NewWriter(env.logger).Write(output, excel.DefaultNodes(names), edges)
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d edges to %s\n", len(edges), strings.Join(files, ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output .xlsx file or CSV prefix")
	cmd.Flags().StringVar(&weight, "weight", string(results.WeightLagFirst), "Edge weight: lag_first, lag_max_statistic, vars_count or binary")
	cmd.Flags().StringVar(&labels, "labels", "", "Comma-separated node labels")
	cmd.Flags().BoolVar(&fdr, "fdr", false, "Only export links that survived FDR correction")
	cmd.Flags().BoolVar(&isComparison, "comparison", false, "The input is a comparison result")

	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}

	run := func(fn func(ctx context.Context, m *migrations.Migrator) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := env.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(cmd.Context(), migrations.NewMigrator(db.DB, env.logger))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(ctx context.Context, m *migrations.Migrator) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Applied %d migrations\n", len(applied))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: run(func(ctx context.Context, m *migrations.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				applied := 0
				for _, s := range status {
					state := "pending"
					if s.Applied {
						state = "applied"
						applied++
					}
					fmt.Printf("  %s: %s\n", s.Name, state)
				}
				fmt.Printf("\nSummary: %d/%d migrations applied\n", applied, len(status))
				return nil
			}),
		},
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Long: `Serve the runs stored in PostgreSQL as JSON:

  GET    /runs                   recent run summaries (?limit=)
  GET    /runs/{id}              full results
  GET    /runs/{id}/edges        edge list (?weight=, ?fdr=)
  GET    /runs/{id}/adjacency    adjacency matrix (?weight=, ?fdr=)
  DELETE /runs/{id}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := env.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(postgres.NewResultsRepository(db), env.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				env.logger.Info("listening on %s", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

func parseInts(list string) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(list, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid process index %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseSubjects(args []string) ([]app.SubjectFiles, error) {
	out := make([]app.SubjectFiles, 0, len(args))
	for _, arg := range args {
		resultsFile, dataFile, ok := strings.Cut(arg, "=")
		if !ok || resultsFile == "" || dataFile == "" {
			return nil, fmt.Errorf("subject %q must be results.json=data-file", arg)
		}
		out = append(out, app.SubjectFiles{Results: resultsFile, Data: dataFile})
	}
	return out, nil
}

func label(names []string, i int) string {
	if i >= 0 && i < len(names) && names[i] != "" {
		return names[i]
	}
	return strconv.Itoa(i)
}
