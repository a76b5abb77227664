package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clipforge/internal/admin"
	"clipforge/internal/compose"
	"clipforge/internal/config"
	"clipforge/internal/db"
	"clipforge/internal/domain"
	"clipforge/internal/migrate"
	"clipforge/internal/pipeline"
	"clipforge/internal/providers/local"
	"clipforge/internal/repo"
	"clipforge/internal/scheduler"
	"clipforge/internal/server"
	"clipforge/internal/upload"
)

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "Clipforge CLI",
	Long: `Clipforge runs recurring video generation pipelines.
Core concepts:
- Workspace: your .clipforge directory holding the database; tuning lives in clipforge.yml.
- Profile: one recurring content series with its cron schedule, prompts, and voice/font settings.
- Stages and layers: the composition recipe; stages chain head to tail, layers stack within a stage.
- Override: a one-off run time that supersedes the cron schedule exactly once.
- Run: a single pipeline execution; it walks generating_question through uploading to done,
  survives restarts, and pauses its profile if it fails.
- Platforms: where finished videos get published (local sink or youtube).
- Event log: diary of changes, view with 'cf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLIPFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(layerCmd())
	rootCmd.AddCommand(overrideCmd())
	rootCmd.AddCommand(platformCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(serveCmd())
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles",
		Long:  "A profile is one recurring content series: its cron schedule, prompts, background filter, and voice/font settings. Paused profiles never start runs.",
	}
	p.AddCommand(profileCreateCmd())
	p.AddCommand(profileListCmd())
	p.AddCommand(profileShowCmd())
	p.AddCommand(profilePauseCmd(true))
	p.AddCommand(profilePauseCmd(false))
	return p
}

func profileCreateCmd() *cobra.Command {
	var opts admin.ProfileCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, a admin.Admin) error {
				p, err := a.CreateProfile(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "profile id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "profile name")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron expression, e.g. '0 12 * * *'")
	cmd.Flags().StringVar(&opts.QuestionPrompt, "question-prompt", "", "prompt template for the question text")
	cmd.Flags().StringVar(&opts.AnswerPrompt, "answer-prompt", "", "prompt template for the answer text")
	cmd.Flags().StringVar(&opts.BackgroundGlob, "background-glob", "", "glob filter for background assets")
	cmd.Flags().StringVar(&opts.VoiceName, "voice", "", "voice name for narration")
	cmd.Flags().StringVar(&opts.FontName, "font", "", "font name for cards and subtitles")
	cmd.Flags().StringVar(&opts.AspectRatio, "aspect", "9:16", "aspect ratio, e.g. 9:16 or 16:9")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}

func profileListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Schedule", "Paused", "Next run"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Schedule, p.Paused, p.NextRun})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func profileShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func profilePauseCmd(pause bool) *cobra.Command {
	use, short := "pause <id>", "Pause profile scheduling"
	if !pause {
		use, short = "resume <id>", "Resume profile scheduling"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, a admin.Admin) error {
				if err := a.SetPaused(ctx, args[0], pause); err != nil {
					return err
				}
				p, err := a.Repo.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func stageCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "stage",
		Short: "Manage composition stages",
		Long:  "Stages chain head to tail via --after: the first stage uses --after none, each later stage names its predecessor. Stages left without --after stay disconnected and are skipped.",
	}
	s.AddCommand(stageAddCmd())
	s.AddCommand(stageListCmd())
	return s
}

func stageAddCmd() *cobra.Command {
	var profileID, name, after string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, a admin.Admin) error {
				s, err := a.AddStage(ctx, profileID, name, after)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	cmd.Flags().StringVar(&name, "name", "", "stage name")
	cmd.Flags().StringVar(&after, "after", "", "predecessor stage id, or 'none' for the chain head")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stageListCmd() *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStages(ctx, profileID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "After"})
				for _, s := range items {
					after := ""
					if s.LastStage != nil {
						after = *s.LastStage
					}
					tw.AppendRow(table.Row{s.ID, s.Name, after})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func layerCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "layer",
		Short: "Manage stage layers",
		Long:  "Layers stack within a stage in insertion order. Each carries a type tag (background, card, voice, subtitle, watermark) and a tag-specific JSON body.",
	}
	l.AddCommand(layerAddCmd())
	l.AddCommand(layerListCmd())
	return l
}

func layerAddCmd() *cobra.Command {
	var stageID, tagName, bodyJSON string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := tagByName(tagName)
			if err != nil {
				return err
			}
			var body map[string]any
			if bodyJSON != "" {
				if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
					return fmt.Errorf("parse --body-json: %w", err)
				}
			}
			return withAdmin(cmd.Context(), func(ctx context.Context, a admin.Admin) error {
				l, err := a.AddLayer(ctx, stageID, tag, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&tagName, "tag", "", "layer type (background, card, voice, subtitle, watermark)")
	cmd.Flags().StringVar(&bodyJSON, "body-json", "", "tag-specific body JSON")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func layerListCmd() *cobra.Command {
	var stageID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLayers(ctx, stageID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order", "Tag"})
				for _, l := range items {
					tag := "?"
					if t, _, err := compose.DecodeHeader(l.Payload); err == nil {
						tag = t.String()
					}
					tw.AppendRow(table.Row{l.ID, l.Order, tag})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func overrideCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "override",
		Short: "Manage one-off run times",
		Long:  "An override schedules a run at a fixed time, superseding the cron schedule. It is claimed exactly once and kept afterwards for audit.",
	}
	o.AddCommand(overrideAddCmd())
	o.AddCommand(overrideListCmd())
	return o
}

func overrideAddCmd() *cobra.Command {
	var profileID, at string
	var in time.Duration
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a one-off run",
		RunE: func(cmd *cobra.Command, args []string) error {
			runsAt := time.Now().UTC()
			switch {
			case at != "":
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				runsAt = t
			case in > 0:
				runsAt = runsAt.Add(in)
			}
			return withAdmin(cmd.Context(), func(ctx context.Context, a admin.Admin) error {
				o, err := a.ScheduleOverride(ctx, profileID, runsAt)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	cmd.Flags().StringVar(&at, "at", "", "run time (RFC 3339); defaults to now")
	cmd.Flags().DurationVar(&in, "in", 0, "run after this delay, e.g. 5m")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func overrideListCmd() *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOverrides(ctx, profileID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func platformCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "platform",
		Short: "Manage upload platforms",
	}
	p.AddCommand(platformAddCmd())
	p.AddCommand(platformListCmd())
	return p
}

func platformAddCmd() *cobra.Command {
	var profileID, kind, oauthRefresh, oauthToken string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register upload platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, a admin.Admin) error {
				p, err := a.AddPlatform(ctx, profileID, kind, []byte(oauthRefresh), []byte(oauthToken))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	cmd.Flags().StringVar(&kind, "kind", "", "platform (local, youtube)")
	cmd.Flags().StringVar(&oauthRefresh, "oauth-refresh", "", "opaque refresh credential blob")
	cmd.Flags().StringVar(&oauthToken, "oauth-token", "", "opaque token credential blob")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func platformListCmd() *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPlatforms(ctx, profileID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func runCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "Inspect and cancel runs",
	}
	r.AddCommand(runListCmd())
	r.AddCommand(runShowCmd())
	r.AddCommand(runCancelCmd())
	r.AddCommand(runUploadsCmd())
	return r
}

func runListCmd() *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRuns(ctx, profileID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Profile", "State", "Attempts", "Started", "Error"})
				for _, run := range items {
					errDetail := ""
					if run.Error != nil {
						errDetail = *run.Error
					}
					tw.AppendRow(table.Row{run.ID, run.ProfileID, run.State, run.Attempts, run.StartedAt, errDetail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id filter")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func runCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a non-terminal run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), func(ctx context.Context, coord *pipeline.Coordinator) error {
				run, err := coord.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func runUploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads <id>",
		Short: "List uploads recorded for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUploadsForRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var profileID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, profileID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id filter")
	return cmd
}

func tickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduling pass",
		Long:  "Re-attaches to any non-terminal runs, claims due overrides and cron occurrences, and drives every run as far as it will go. Useful for tests and cron-driven deployments.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPoller(cmd.Context(), func(ctx context.Context, p *scheduler.Poller) error {
				p.Tick(ctx)
				return nil
			})
		},
	}
	return cmd
}

func pollCmd() *cobra.Command {
	var withAPI bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the scheduling daemon",
		Long:  "Polls for due runs at the configured interval and drives them to completion. With --serve the HTTP API runs alongside.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := openDB(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			coord := newCoordinator(conn, cfg)
			sel := scheduler.NewSelector(conn)
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			poller := scheduler.NewPoller(sel, coord, cfg.PollInterval(), log)
			if withAPI {
				handler, err := server.New(server.Config{Admin: admin.New(conn), Coord: coord})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
				go func() {
					log.Info("serving api", "addr", cfg.Server.Listen)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("api server stopped", "err", err)
					}
				}()
			}
			return poller.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&withAPI, "serve", false, "also serve the HTTP API")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := openDB(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if addr == "" {
				addr = cfg.Server.Listen
			}
			handler, err := server.New(server.Config{
				Admin:    admin.New(conn),
				Coord:    newCoordinator(conn, cfg),
				BasePath: basePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Clipforge API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func openDB(workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func newCoordinator(conn *sql.DB, cfg *config.Config) *pipeline.Coordinator {
	caps := pipeline.Capabilities{
		Generator:  local.Generator{},
		Voice:      local.Synthesizer{Dir: cfg.Providers.OutputDir},
		Subtitles:  local.SubtitleRenderer{Dir: cfg.Providers.OutputDir},
		Background: local.BackgroundFetcher{MediaDir: cfg.Providers.MediaDir},
		Composer:   local.Composer{Dir: cfg.Providers.OutputDir},
	}
	dispatcher := upload.NewDispatcher(conn,
		upload.LocalPublisher{Dir: cfg.Providers.OutputDir},
		upload.UnconfiguredPublisher{Kind: domain.PlatformYoutube},
	)
	return pipeline.New(conn, cfg, caps, dispatcher)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openDB(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func withAdmin(ctx context.Context, fn func(context.Context, admin.Admin) error) error {
	conn, err := openDB(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, admin.New(conn))
}

func withCoordinator(ctx context.Context, fn func(context.Context, *pipeline.Coordinator) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := openDB(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, newCoordinator(conn, cfg))
}

func withPoller(ctx context.Context, fn func(context.Context, *scheduler.Poller) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := openDB(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	coord := newCoordinator(conn, cfg)
	sel := scheduler.NewSelector(conn)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return fn(ctx, scheduler.NewPoller(sel, coord, cfg.PollInterval(), log))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func tagByName(name string) (compose.Tag, error) {
	switch name {
	case "background":
		return compose.TagBackground, nil
	case "card":
		return compose.TagCard, nil
	case "voice":
		return compose.TagVoice, nil
	case "subtitle":
		return compose.TagSubtitle, nil
	case "watermark":
		return compose.TagWatermark, nil
	}
	return 0, fmt.Errorf("unknown layer tag %q", name)
}
