package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/analytics"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/cache"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/pipeline"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/safety"
	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/health"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/kafka"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func queryArg(args []string) (string, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "a query is required")
	}
	return q, nil
}

func parseMode(name, fallback string) (safety.Mode, error) {
	if name == "" {
		name = fallback
	}
	mode, ok := safety.ParseMode(name)
	if !ok {
		return mode, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "unknown filter mode %q", name)
	}
	return mode, nil
}

func createSpellcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spellcheck <query...>",
		Short: "Correct the spelling of a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryArg(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := pipeline.Build(cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c.Corrector.CheckQuery(query))
		},
	}
}

func createExpandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand <query...>",
		Short: "Interpret, correct and expand a query into archive queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryArg(args)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			return printJSON(cmd.OutOrStdout(), a.pipeline.PrepareQuery(ctx, query))
		},
	}
}

func createClassifyCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "classify [records.json]",
		Short: "Classify records for sensitive content",
		Long:  `Reads a JSON array or JSON lines of archive records from a file or stdin and prints each record's safety classification.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := parseMode(mode, cfg.Safety.DefaultMode)
			if err != nil {
				return err
			}
			records, err := readRecords(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			c, err := pipeline.Build(cfg)
			if err != nil {
				return err
			}
			type classified struct {
				Identifier string                `json:"identifier"`
				Visible    bool                  `json:"visible"`
				Safety     safety.Classification `json:"safety"`
			}
			out := make([]classified, 0, len(records))
			for _, r := range records {
				cl := c.Classifier.Resolve(r)
				out = append(out, classified{
					Identifier: r.First("identifier"),
					Visible:    safety.MatchesMode(cl, m),
					Safety:     cl,
				})
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "classified %s records, %s hidden under %s\n",
				humanize.Comma(int64(len(records))), humanize.Comma(int64(c.Classifier.CountHidden(records, m))), m)
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "filter mode: safe, moderate, unrestricted or nsfw-only")
	return cmd
}

func createScoreCmd() *cobra.Command {
	var (
		query  string
		mode   string
		rerank bool
	)
	cmd := &cobra.Command{
		Use:   "score [records.json]",
		Short: "Annotate, score and filter records for a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query) == "" {
				return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "--query is required")
			}
			records, err := readRecords(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			m, err := parseMode(mode, a.cfg.Safety.DefaultMode)
			if err != nil {
				return err
			}
			opts := a.pipeline.DefaultOptions()
			if cmd.Flags().Changed("rerank") {
				opts.Rerank = rerank
			}
			out := a.pipeline.Process(ctx, query, records, m, opts)
			printSummary(cmd, out)
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query the records are scored against")
	cmd.Flags().StringVar(&mode, "mode", "", "filter mode: safe, moderate, unrestricted or nsfw-only")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "order by combined score instead of input order")
	return cmd
}

func createRunCmd() *cobra.Command {
	var (
		archivePath string
		mode        string
		rerank      bool
	)
	cmd := &cobra.Command{
		Use:   "run <query...>",
		Short: "Run the full search flow against a record fixture",
		Long:  `Prepares the query, sends the prepared queries to an archive backed by a JSON record fixture, then annotates, scores and filters the results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryArg(args)
			if err != nil {
				return err
			}
			if archivePath == "" {
				return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "--archive is required")
			}
			archive, err := loadFixtureArchive(archivePath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			m, err := parseMode(mode, a.cfg.Safety.DefaultMode)
			if err != nil {
				return err
			}
			opts := a.pipeline.DefaultOptions()
			if cmd.Flags().Changed("rerank") {
				opts.Rerank = rerank
			}
			out, err := a.pipeline.Search(ctx, archive, query, m, opts)
			if err != nil {
				return err
			}
			printSummary(cmd, out)
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "JSON record fixture standing in for the archive")
	cmd.Flags().StringVar(&mode, "mode", "", "filter mode: safe, moderate, unrestricted or nsfw-only")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "order by combined score instead of archive order")
	return cmd
}

func createLearnCmd() *cobra.Command {
	var (
		consume       bool
		fromBeginning bool
		check         string
	)
	cmd := &cobra.Command{
		Use:   "learn [text files...]",
		Short: "Teach the spell corrector from text files or the vocabulary feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := pipeline.Build(cfg)
			if err != nil {
				return err
			}
			lines := 0
			for _, path := range args {
				n, err := learnFile(c.Corrector, path)
				if err != nil {
					return err
				}
				lines += n
			}
			if consume {
				if len(cfg.Kafka.Brokers) == 0 {
					return apperrors.New(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "--consume needs kafka.brokers")
				}
				ctx, stop := signalContext()
				defer stop()
				var opts []kafka.ConsumerOption
				if fromBeginning {
					opts = append(opts, kafka.FromBeginning())
				}
				consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.VocabularyFeed, analytics.VocabularyHandler(c.Corrector), opts...)
				defer consumer.Close()
				if err := consumer.Start(ctx); err != nil {
					return apperrors.Newf(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "vocabulary feed: %v", err)
				}
				fs := consumer.Stats()
				fmt.Fprintf(cmd.ErrOrStderr(), "vocabulary feed: %s messages, %s failed\n",
					humanize.Comma(fs.Handled), humanize.Comma(fs.Failed))
			}
			stats := c.Corrector.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "learned %s lines; vocabulary %s/%s words, %s evicted\n",
				humanize.Comma(int64(lines)), humanize.Comma(int64(stats.Size)),
				humanize.Comma(int64(stats.Capacity)), humanize.Comma(stats.Evictions))
			if check != "" {
				return printJSON(cmd.OutOrStdout(), c.Corrector.CheckQuery(check))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&consume, "consume", false, "also learn from the vocabulary topic until interrupted")
	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "replay the vocabulary topic from the oldest message")
	cmd.Flags().StringVar(&check, "check", "", "spellcheck this query after learning")
	return cmd
}

func createEventsCmd() *cobra.Command {
	var (
		duration time.Duration
		zeroOnly bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Aggregate pipeline events from Kafka and print the statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return apperrors.New(apperrors.ErrInvalidConfig, apperrors.ExitConfig, "events needs kafka.brokers")
			}
			ctx, stop := signalContext()
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			agg := analytics.NewAggregator()
			types := []string{string(analytics.EventQuery), string(analytics.EventZeroResult)}
			if zeroOnly {
				types = types[1:]
			}
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PipelineEvents, analytics.HandleEvent(agg),
				kafka.WithEventTypes(types...))
			defer consumer.Close()
			if err := consumer.Start(ctx); err != nil {
				return apperrors.Newf(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "event stream: %v", err)
			}
			fs := consumer.Stats()
			fmt.Fprintf(cmd.ErrOrStderr(), "aggregated %s of %s events\n", humanize.Comma(fs.Handled), humanize.Comma(fs.Received))
			return printJSON(cmd.OutOrStdout(), agg.Stats())
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (until interrupted when zero)")
	cmd.Flags().BoolVar(&zeroOnly, "zero-results", false, "aggregate zero-result queries only")
	return cmd
}

func createCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the result cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:       "flush [safety|expand]",
		Short:     "Delete cached entries of one namespace, or all",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{cache.NamespaceSafety, cache.NamespaceExpand},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if a.cache == nil {
				return apperrors.New(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "result cache is not available")
			}
			namespace := ""
			if len(args) == 1 {
				namespace = args[0]
			}
			n, err := a.cache.Invalidate(ctx, namespace)
			if err != nil {
				return apperrors.Newf(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "%v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s cache entries\n", humanize.Comma(n))
			return nil
		},
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count cached entries per namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if a.cache == nil {
				return apperrors.New(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "result cache is not available")
			}
			out := cmd.OutOrStdout()
			for _, ns := range []string{cache.NamespaceSafety, cache.NamespaceExpand} {
				n, err := a.cache.Count(ctx, ns)
				if err != nil {
					return apperrors.Newf(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "%v", err)
				}
				fmt.Fprintf(out, "%-8s %s entries\n", ns, humanize.Comma(n))
			}
			pool := a.redis.PoolStats()
			fmt.Fprintf(out, "pool     %d total, %d idle, %s hits, %s misses\n",
				pool.TotalConns, pool.IdleConns, humanize.Comma(int64(pool.Hits)), humanize.Comma(int64(pool.Misses)))
			return nil
		},
	})
	return cacheCmd
}

func createDoctorCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check data tables and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			checker := health.NewChecker(health.WithCheckTimeout(timeout))
			stats := a.components.Corrector.Stats()
			checker.Register("vocabulary", health.Table(stats.Size,
				fmt.Sprintf("%s of %s words", humanize.Comma(int64(stats.Size)), humanize.Comma(int64(stats.Capacity)))))
			lexicon := a.components.Expander.Lexicon()
			checker.Register("synonyms", health.Table(lexicon.Len(),
				fmt.Sprintf("%s terms, version %s", humanize.Comma(int64(lexicon.Len())), lexicon.Version())))
			keywords := a.components.Classifier.KeywordSet()
			checker.Register("keywords", health.Table(keywords.Len(),
				fmt.Sprintf("%s phrases, version %s", humanize.Comma(int64(keywords.Len())), keywords.Version())))

			switch {
			case a.redis != nil:
				checker.Register("redis", health.Optional(a.redis.Ping))
			case a.cfg.Redis.Addr != "":
				checker.Register("redis", health.Static(health.StatusDegraded, "unreachable at startup"))
			default:
				checker.Register("redis", health.Static(health.StatusUp, "not configured"))
			}
			if brokers := a.cfg.Kafka.Brokers; len(brokers) > 0 {
				checker.Register("kafka", health.Optional(func(ctx context.Context) error {
					return kafka.Ping(ctx, brokers)
				}))
			} else {
				checker.Register("kafka", health.Static(health.StatusUp, "not configured"))
			}

			report := checker.Run(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", report.Status)
			for _, name := range report.Names() {
				c := report.Components[name]
				fmt.Fprintf(out, "  %-10s %-9s %s %s\n", name, c.Status, c.Latency, c.Message)
			}
			if report.Status == health.StatusDown {
				return apperrors.New(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "a required dependency is down")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "per-check timeout")
	return cmd
}

func printSummary(cmd *cobra.Command, out pipeline.Outcome) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s of %s records shown, %s hidden, %s filtered (request %s)\n",
		humanize.Comma(int64(len(out.Items))), humanize.Comma(int64(out.Total)),
		humanize.Comma(int64(out.Hidden)), humanize.Comma(int64(out.Filtered)), out.RequestID)
}
