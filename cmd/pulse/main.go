package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pbaille/pulse/internal/api"
	"github.com/pbaille/pulse/internal/config"
	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/ingest"
	"github.com/pbaille/pulse/internal/resolver"
	"github.com/pbaille/pulse/internal/scheduler"
	"github.com/pbaille/pulse/internal/store"
	"github.com/pbaille/pulse/internal/switches"
	"github.com/pbaille/pulse/internal/tagger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	dbPath     string
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pulse",
		Short:         "Classify computer activity into tagged periods",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statesCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(appsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and explicitly set flags
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func openStore(path string) (*store.Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(path)
}

func getStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openStore(cfg.DBPath)
}

func runCmd() *cobra.Command {
	var (
		addr      string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest events and classify activity periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			logger := cfg.Logger(os.Stderr)

			s, err := openStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			debouncer := switches.New(cfg.Dwell)
			ingestor := ingest.NewIngestor(s, resolver.New(s, logger), debouncer, cfg.QueueSize, logger)
			sched := scheduler.New(s, tagger.New(logger), debouncer, scheduler.Config{
				Interval:    cfg.Interval,
				Grace:       cfg.Grace,
				TickTimeout: cfg.TickTimeout,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ingestor.Run(ctx) })
			g.Go(func() error { return sched.Run(ctx) })
			if cfg.Addr != "" {
				srv := api.New(s, ingestor, cfg.Addr, cfg.MaxBodyBytes, logger)
				g.Go(func() error { return srv.Run(ctx) })
			}
			if fromStdin {
				// not part of the group: a blocked read on stdin must not hold up shutdown
				go func() {
					err := ingestor.Feed(ctx, os.Stdin)
					if err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("stdin events", "err", err)
						return
					}
					logger.Info("stdin closed")
				}()
			}

			logger.Info("pulse running", "db", cfg.DBPath, "interval", cfg.Interval, "addr", cfg.Addr, "stdin", fromStdin)
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "HTTP address for event intake (empty disables)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read newline-delimited JSON events from stdin")
	return cmd
}

func statesCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "states",
		Short: "List recent activity periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			now := time.Now().UTC()
			states, err := s.ActivityStatesStartingBetween(ctx, now.Add(-since), now)
			if err != nil {
				return err
			}

			if len(states) == 0 {
				fmt.Println("No periods yet. Use 'pulse run' to start classifying.")
				return nil
			}

			for _, st := range states {
				tags, err := s.TagsForState(ctx, st.ID)
				if err != nil {
					return err
				}
				names := make([]string, len(tags))
				for i, t := range tags {
					names[i] = t.Name
				}
				fmt.Printf("%s  %-8s  %2d switches  %s\n",
					st.StartTime.Local().Format("2006-01-02 15:04:05"),
					st.State, st.AppSwitches, strings.Join(names, ", "))
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to look")
	return cmd
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List all tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			tags, err := s.ListTags(cmd.Context())
			if err != nil {
				return err
			}

			// Build hierarchy map
			children := make(map[string][]string)
			roots := []string{}
			tagMap := make(map[string]string) // id -> name

			for _, t := range tags {
				tagMap[t.ID] = t.Name
				if t.ParentID == nil {
					roots = append(roots, t.ID)
				} else {
					children[*t.ParentID] = append(children[*t.ParentID], t.ID)
				}
			}

			// Print tree
			var printTree func(id string, indent int)
			printTree = func(id string, indent int) {
				prefix := strings.Repeat("  ", indent)
				fmt.Printf("%s%s\n", prefix, tagMap[id])
				for _, childID := range children[id] {
					printTree(childID, indent+1)
				}
			}

			for _, rootID := range roots {
				printTree(rootID, 0)
			}

			return nil
		},
	}
}

func appsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Inspect and curate applications",
	}
	cmd.AddCommand(appsListCmd())
	cmd.AddCommand(appsTagCmd())
	cmd.AddCommand(appsBlockCmd())
	return cmd
}

func appsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			apps, err := s.ListApps(cmd.Context())
			if err != nil {
				return err
			}

			if len(apps) == 0 {
				fmt.Println("No applications yet. They appear as window events are ingested.")
				return nil
			}

			for _, a := range apps {
				flags := ""
				if a.IsBrowser {
					flags += " [browser]"
				}
				if a.IsBlocked {
					flags += " [blocked]"
				}
				fmt.Printf("%s  %-30s  %s%s\n", a.ID[:8], a.ExternalID, a.Name, flags)
			}

			return nil
		},
	}
}

func appsTagCmd() *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "tag [external-id] [tag]",
		Short: "Attach a default tag to an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			app, err := s.AppByExternalID(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("application not found: %s", args[0])
			}
			if err != nil {
				return err
			}

			var parentID *string
			if parent != "" {
				parentTag, err := s.TagByName(ctx, parent)
				if err != nil {
					return fmt.Errorf("parent tag %s: %w", parent, err)
				}
				parentID = &parentTag.ID
			}

			tagType := domain.TagTypeDefault
			tag, err := s.GetOrCreateTag(ctx, args[1], &tagType, parentID)
			if err != nil {
				return err
			}
			if err := s.AttachAppTag(ctx, app.ID, tag.ID, resolver.DefaultTagWeight); err != nil {
				return err
			}

			fmt.Printf("  + %s -> %s\n", app.ExternalID, tag.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "parent tag for a newly created tag")
	return cmd
}

func appsBlockCmd() *cobra.Command {
	var unblock bool

	cmd := &cobra.Command{
		Use:   "block [external-id]",
		Short: "Mark an application as blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			err = s.SetAppBlocked(cmd.Context(), args[0], !unblock)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("application not found: %s", args[0])
			}
			if err != nil {
				return err
			}

			if unblock {
				fmt.Printf("Unblocked %s\n", args[0])
			} else {
				fmt.Printf("Blocked %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&unblock, "unblock", false, "clear the blocked flag instead")
	return cmd
}
