package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/log"
	"github.com/cuemby/tagstore/pkg/metrics"
	"github.com/cuemby/tagstore/pkg/registry"
	"github.com/cuemby/tagstore/pkg/tagstore"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tagstore",
	Short:   "tagstore - embedded tagged-event store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tagstore version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Data directory")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(indexCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// serveCmd runs the pipeline standalone, exposing metrics and health
// endpoints, until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tagstore pipeline and serve /metrics, /health, /ready, /live",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := tagstore.DefaultConfig(dataDir)
		core, err := tagstore.New(cfg)
		if err != nil {
			return fmt.Errorf("open core: %w", err)
		}
		core.Run()
		fmt.Println("tagstore pipeline started")

		collector := metrics.NewCollector(core)
		collector.Start()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("system_container", true, "open")
		metrics.RegisterComponent("pipeline", true, "running")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", metrics.HealthHandler())
			mux.HandleFunc("/ready", metrics.ReadyHandler())
			mux.HandleFunc("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("metrics endpoint: http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nshutting down...")

		collector.Stop()
		metrics.RegisterComponent("pipeline", false, "stopping")
		if err := core.Close(); err != nil {
			return fmt.Errorf("close core: %w", err)
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics, /health, /ready, /live")
}

// parseTags turns repeated "key=value" flags into ast.Tag values, treating
// a value parseable as an integer as ValInt and everything else as ValStr.
func parseTags(raw []string) ([]ast.Tag, error) {
	tags := make([]ast.Tag, 0, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag %q: expected key=value", kv)
		}
		tags = append(tags, ast.Tag{Key: parts[0], Value: literalOf(parts[1])})
	}
	return tags, nil
}

func literalOf(s string) ast.Literal {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ast.Literal{Type: ast.ValInt, Int: n}
	}
	return ast.Literal{Type: ast.ValStr, Str: s}
}

// openOneShotCore opens a Core with a minimal single-worker/single-consumer
// topology for the demo subcommands, which issue exactly one command and
// exit; it does not change Core's semantics, only its scale.
func openOneShotCore(dataDir string) (*tagstore.Core, error) {
	cfg := tagstore.DefaultConfig(dataDir)
	cfg.NumWorkers = 1
	cfg.NumConsumers = 1
	cfg.OpQueuesPerConsumer = 1
	cfg.FlushEveryNCycles = 1
	core, err := tagstore.New(cfg)
	if err != nil {
		return nil, err
	}
	core.Run()
	return core, nil
}

var putCmd = &cobra.Command{
	Use:   "put --in <container> --entity <name> --tag key=value [--tag key=value...]",
	Short: "Submit one event command",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")
		container, _ := cmd.Flags().GetString("in")
		entity, _ := cmd.Flags().GetString("entity")
		rawTags, _ := cmd.Flags().GetStringArray("tag")

		tags, err := parseTags(rawTags)
		if err != nil {
			return err
		}

		core, err := openOneShotCore(dataDir)
		if err != nil {
			return err
		}
		defer core.Close()

		resp, err := core.Execute(&ast.Command{Kind: ast.KindEvent, Container: container, Entity: entity, Tags: tags})
		if err != nil {
			return err
		}
		fmt.Printf("event id: %d\n", resp.EventID)
		return nil
	},
}

func init() {
	putCmd.Flags().String("in", "", "target container")
	putCmd.Flags().String("entity", "", "entity name")
	putCmd.Flags().StringArray("tag", nil, "key=value tag, repeatable")
	_ = putCmd.MarkFlagRequired("in")
	_ = putCmd.MarkFlagRequired("entity")
}

var queryCmd = &cobra.Command{
	Use:   "query --in <container> --tag key=value [--tag key=value...] [--take N]",
	Short: "Run a conjunctive tag-equality query and print matching event ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")
		container, _ := cmd.Flags().GetString("in")
		rawTags, _ := cmd.Flags().GetStringArray("tag")
		take, _ := cmd.Flags().GetInt("take")

		tags, err := parseTags(rawTags)
		if err != nil {
			return err
		}
		where := conjunction(tags)

		core, err := openOneShotCore(dataDir)
		if err != nil {
			return err
		}
		defer core.Close()

		resp, err := core.Execute(&ast.Command{Kind: ast.KindQuery, Container: container, Where: where, Take: take})
		if err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		return nil
	},
}

func conjunction(tags []ast.Tag) *ast.Expr {
	if len(tags) == 0 {
		return nil
	}
	expr := &ast.Expr{Kind: ast.ExprTag, Key: tags[0].Key, Value: tags[0].Value}
	for _, t := range tags[1:] {
		expr = &ast.Expr{Kind: ast.ExprAnd, Left: expr, Right: &ast.Expr{Kind: ast.ExprTag, Key: t.Key, Value: t.Value}}
	}
	return expr
}

func init() {
	queryCmd.Flags().String("in", "", "target container")
	queryCmd.Flags().StringArray("tag", nil, "key=value equality term, repeatable, ANDed together")
	queryCmd.Flags().Int("take", 0, "limit on returned ids, 0 means unlimited")
	_ = queryCmd.MarkFlagRequired("in")
}

var indexCmd = &cobra.Command{
	Use:   "index --in <container> --key <tag> --type str|int",
	Short: "Register a secondary index on a tag key",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")
		container, _ := cmd.Flags().GetString("in")
		key, _ := cmd.Flags().GetString("key")
		typ, _ := cmd.Flags().GetString("type")

		var valType registry.ValueType
		switch typ {
		case "str":
			valType = registry.ValueString
		case "int":
			valType = registry.ValueI64
		default:
			return fmt.Errorf("invalid --type %q: expected str or int", typ)
		}

		core, err := openOneShotCore(dataDir)
		if err != nil {
			return err
		}
		defer core.Close()

		_, err = core.Execute(&ast.Command{Kind: ast.KindIndex, Container: container, IndexKey: key, IndexType: uint8(valType)})
		return err
	},
}

func init() {
	indexCmd.Flags().String("in", "", "target container")
	indexCmd.Flags().String("key", "", "tag key to index")
	indexCmd.Flags().String("type", "str", "index value type: str or int")
	_ = indexCmd.MarkFlagRequired("in")
	_ = indexCmd.MarkFlagRequired("key")
}
