package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"callboard/internal/app"
	"callboard/internal/bot"
	"callboard/internal/config"
	"callboard/internal/db"
	"callboard/internal/domain"
	"callboard/internal/engine"
	"callboard/internal/repo"
	"callboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cb",
	Short: "Callboard CLI",
	Long: `Callboard routes help requests on a competition floor.
Judges raise calls for an expert or for the head judge; everyone whose role
matches gets notified, the first responder wins the call, and the rest see
it is taken. Judges can withdraw their unanswered calls at any time.
Run the Telegram front end with 'cb bot', the HTTP API with 'cb serve'.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CALLBOARD")
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
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(botCmd())
}

func personCmd() *cobra.Command {
	person := &cobra.Command{Use: "person", Short: "Manage the people directory"}
	person.AddCommand(personRegisterCmd())
	person.AddCommand(personListCmd())
	person.AddCommand(personShowCmd())
	return person
}

func personRegisterCmd() *cobra.Command {
	var id int64
	var name, role, discipline string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := domain.ParseRole(role)
				if err != nil {
					return err
				}
				if discipline != "" && !a.Config.HasDiscipline(discipline) {
					return fmt.Errorf("discipline %q not in catalog", discipline)
				}
				p, created, err := a.Engine.Register(ctx, engine.RegisterOptions{
					ID:          id,
					DisplayName: name,
					Role:        r,
					Discipline:  discipline,
				})
				if err != nil {
					return err
				}
				if !created {
					fmt.Printf("already registered: %s\n", p.DisplayName)
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "person id (chat id)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role (judge, expert, head_judge)")
	cmd.Flags().StringVar(&discipline, "discipline", "", "discipline")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func personListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List people",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var people []domain.Person
				var err error
				if role != "" {
					r, perr := domain.ParseRole(role)
					if perr != nil {
						return perr
					}
					people, err = a.Engine.Repo.ListPeopleByRole(ctx, r)
				} else {
					people, err = a.Engine.Repo.ListPeople(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(people)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Discipline"})
				for _, p := range people {
					tw.AppendRow(table.Row{p.ID, p.DisplayName, p.Role, p.Discipline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func personShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetPerson(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "person id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func callCmd() *cobra.Command {
	call := &cobra.Command{Use: "call", Short: "Manage calls"}
	call.AddCommand(callCreateCmd())
	call.AddCommand(callRespondCmd())
	call.AddCommand(callCancelCmd())
	call.AddCommand(callListCmd())
	return call
}

func callCreateCmd() *cobra.Command {
	var requesterID int64
	var kind, discipline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise a call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				k, err := domain.ParseCallKind(kind)
				if err != nil {
					return err
				}
				c, err := a.Engine.CreateCall(ctx, engine.CreateCallOptions{
					RequesterID: requesterID,
					Kind:        k,
					Discipline:  discipline,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().Int64Var(&requesterID, "requester-id", 0, "requesting judge id")
	cmd.Flags().StringVar(&kind, "kind", "expert", "call kind (expert, head_judge)")
	cmd.Flags().StringVar(&discipline, "discipline", "", "discipline (defaults to the judge's)")
	_ = cmd.MarkFlagRequired("requester-id")
	return cmd
}

func callRespondCmd() *cobra.Command {
	var callID, responderID int64
	var kind string
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Claim an open call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				k, err := domain.ParseCallKind(kind)
				if err != nil {
					return err
				}
				c, err := a.Engine.Respond(ctx, callID, k, responderID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().Int64Var(&callID, "id", 0, "call id")
	cmd.Flags().Int64Var(&responderID, "responder-id", 0, "responder id")
	cmd.Flags().StringVar(&kind, "kind", "expert", "call kind (expert, head_judge)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("responder-id")
	return cmd
}

func callCancelCmd() *cobra.Command {
	var requesterID int64
	var kind string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Withdraw a requester's open calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var k *domain.CallKind
				if kind != "" {
					parsed, err := domain.ParseCallKind(kind)
					if err != nil {
						return err
					}
					k = &parsed
				}
				n, err := a.Engine.CancelOpenCalls(ctx, requesterID, k)
				if err != nil {
					return err
				}
				fmt.Printf("cancelled %d call(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&requesterID, "requester-id", 0, "requesting judge id")
	cmd.Flags().StringVar(&kind, "kind", "", "restrict to one call kind")
	_ = cmd.MarkFlagRequired("requester-id")
	return cmd
}

func callListCmd() *cobra.Command {
	var kind string
	var requesterID, responderID int64
	var openOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				filters := callFilters(kind, requesterID, responderID, openOnly, limit)
				calls, err := a.Engine.Repo.ListCalls(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(calls)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Requester", "Responder", "Discipline", "Created", "Resolved"})
				for _, c := range calls {
					responder := ""
					if c.ResponderID != nil {
						responder = fmt.Sprint(*c.ResponderID)
					}
					resolved := ""
					if c.ResolvedAt != nil {
						resolved = *c.ResolvedAt
					}
					tw.AppendRow(table.Row{c.ID, c.Kind, c.RequesterID, responder, c.Discipline, c.CreatedAt, resolved})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().Int64Var(&requesterID, "requester-id", 0, "requester filter")
	cmd.Flags().Int64Var(&responderID, "responder-id", 0, "responder filter")
	cmd.Flags().BoolVar(&openOnly, "open", false, "only open calls")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func statusCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a person's live view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.Status(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("Person %d (%s)\n", report.PersonID, report.Role)
				fmt.Printf("  open expert calls: %d\n", report.OpenExpertCalls)
				fmt.Printf("  open head judge calls: %d\n", report.OpenHeadJudgeCalls)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "person id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var eventName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default callboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(eventName)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventName, "event", "local", "event name")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default("local")
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Engine, a.Config.Webhooks)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Callboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func botCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				token := a.Config.Telegram.Token
				if envToken := viper.GetString("telegram-token"); envToken != "" {
					token = envToken
				}
				if token == "" {
					return fmt.Errorf("telegram token required; set telegram.token in callboard.yml or CALLBOARD_TELEGRAM_TOKEN")
				}
				// the engine was built before the env token was known;
				// rebuild its notifier so fan-out uses the same transport
				a.Config.Telegram.Token = token
				a.Engine.Notifier = app.NewNotifier(a.Config, a.Log)
				client := bot.NewClient(token, a.Config.Telegram.PollTimeoutSeconds)
				if a.Config.Telegram.APIBase != "" {
					client.BaseURL = a.Config.Telegram.APIBase
				}
				router := bot.NewRouter(a.Engine, client, a.Config, a.Log)
				fmt.Println("Bot is polling for updates. Press Ctrl+C to stop.")
				if err := router.Run(ctx, client); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Bootstrap(viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func callFilters(kind string, requesterID, responderID int64, openOnly bool, limit int) repo.CallFilters {
	f := repo.CallFilters{OpenOnly: openOnly, Limit: limit}
	if k, err := domain.ParseCallKind(kind); err == nil {
		f.Kind = &k
	}
	if requesterID != 0 {
		f.RequesterID = &requesterID
	}
	if responderID != 0 {
		f.ResponderID = &responderID
	}
	return f
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
