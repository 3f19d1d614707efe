package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quasar/cleanlaunch/internal/api"
	"github.com/quasar/cleanlaunch/internal/auth"
	"github.com/quasar/cleanlaunch/internal/config"
	"github.com/quasar/cleanlaunch/internal/core"
	"github.com/quasar/cleanlaunch/internal/java"
	"github.com/quasar/cleanlaunch/internal/launch"
	"github.com/quasar/cleanlaunch/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cleanlaunch",
	Short: "CleanLaunch game launcher",
	Long: `CleanLaunch manages game instances end to end: Microsoft sign-in,
version resolution, verified artifact downloads and process launch.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLEANLAUNCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("data-dir", "", "launcher data directory (defaults to the platform data dir)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(versionsCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(javaCmd())
	rootCmd.AddCommand(launchCmd())
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a Microsoft account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				svc := a.authService()
				session, err := svc.StartDeviceAuth(cmd.Context())
				if err != nil {
					return err
				}
				if session.Message != "" {
					fmt.Println(session.Message)
				} else {
					fmt.Printf("Visit %s and enter code %s\n", session.VerificationURI, session.UserCode)
				}
				fmt.Println("Waiting for sign-in to complete...")
				account, err := svc.CompleteDeviceAuth(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Signed in as %s\n", account.Gamertag)
				return nil
			})
		},
	}
	return cmd
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.authService().Logout(); err != nil {
					return err
				}
				fmt.Println("Signed out")
				return nil
			})
		},
	}
	return cmd
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the stored account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				account, err := a.authService().GetStoredAccount(cmd.Context())
				if err != nil {
					return err
				}
				if account == nil {
					fmt.Println("Not signed in. Run 'cleanlaunch login'.")
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(account)
				}
				fmt.Printf("Gamertag: %s\n", account.Gamertag)
				fmt.Printf("UUID:     %s\n", account.UUID)
				fmt.Printf("Expires:  %s\n", humanize.Time(account.ExpiresAt))
				return nil
			})
		},
	}
	return cmd
}

func versionsCmd() *cobra.Command {
	v := &cobra.Command{Use: "versions", Short: "Browse available game versions"}
	v.AddCommand(versionsListCmd())
	return v
}

func versionsListCmd() *cobra.Command {
	var force bool
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				manifest, err := a.mojang().FetchVersionManifest(cmd.Context(), force)
				if err != nil {
					return err
				}
				versions := manifest.Versions
				if !all {
					filtered := versions[:0]
					for _, v := range versions {
						if v.Type == core.VersionTypeRelease {
							filtered = append(filtered, v)
						}
					}
					versions = filtered
				}
				api.SortVersions(versions)
				if viper.GetBool("json") {
					return printJSON(versions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Released"})
				for _, v := range versions {
					tw.AppendRow(table.Row{v.ID, v.Type, humanize.Time(v.ReleaseTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "refetch the manifest even if cached")
	cmd.Flags().BoolVar(&all, "all", false, "include snapshots and legacy versions")
	return cmd
}

func instanceCmd() *cobra.Command {
	inst := &cobra.Command{Use: "instance", Short: "Manage launch instances"}
	inst.AddCommand(instanceListCmd())
	inst.AddCommand(instanceCreateCmd())
	inst.AddCommand(instanceDeleteCmd())
	return inst
}

func instanceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				store, err := a.instances()
				if err != nil {
					return err
				}
				items := store.List()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Version", "RAM", "Created"})
				for _, it := range items {
					ram := fmt.Sprintf("%d-%dM", it.MinRAM, it.MaxRAM)
					tw.AppendRow(table.Row{it.ID, it.Name, it.Version, ram, humanize.Time(it.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func instanceCreateCmd() *cobra.Command {
	var inst core.InstanceConfig
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if inst.Version == "" {
					latest, err := a.mojang().LatestRelease(cmd.Context())
					if err != nil {
						return err
					}
					inst.Version = latest
				}
				inst.ID = uuid.NewString()
				store, err := a.instances()
				if err != nil {
					return err
				}
				created, err := store.Upsert(inst)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("Created instance %s (%s, %s)\n", created.Name, created.Version, created.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inst.Name, "name", "", "instance name")
	cmd.Flags().StringVar(&inst.Version, "version", "", "game version (defaults to latest release)")
	cmd.Flags().StringVar(&inst.JavaPath, "java", "", "explicit java executable")
	cmd.Flags().IntVar(&inst.MinRAM, "min-ram", 0, "minimum heap in MiB")
	cmd.Flags().IntVar(&inst.MaxRAM, "max-ram", 0, "maximum heap in MiB")
	cmd.Flags().IntVar(&inst.Resolution.Width, "width", 0, "window width")
	cmd.Flags().IntVar(&inst.Resolution.Height, "height", 0, "window height")
	cmd.Flags().BoolVar(&inst.Resolution.Fullscreen, "fullscreen", false, "launch fullscreen")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func instanceDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				store, err := a.instances()
				if err != nil {
					return err
				}
				target, ok := findInstance(store, args[0])
				if !ok {
					return fmt.Errorf("no instance %q", args[0])
				}
				if err := store.Delete(target.ID); err != nil {
					return err
				}
				fmt.Printf("Deleted instance %s\n", target.Name)
				return nil
			})
		},
	}
	return cmd
}

func javaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "java",
		Short: "Show the detected Java runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := java.Detect()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(rt)
			}
			fmt.Printf("Java %s (major %d) at %s\n", rt.Version, rt.Major, rt.Path)
			return nil
		},
	}
	return cmd
}

func launchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch <instance>",
		Short: "Launch an instance by id or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				store, err := a.instances()
				if err != nil {
					return err
				}
				inst, ok := findInstance(store, args[0])
				if !ok {
					return fmt.Errorf("no instance %q", args[0])
				}

				svc := a.authService()
				account, err := svc.GetStoredAccount(cmd.Context())
				if err != nil {
					return err
				}
				if account == nil {
					return fmt.Errorf("not signed in; run 'cleanlaunch login' first")
				}

				orch := launch.NewOrchestrator(a.paths, a.mojang(), a.settings.DownloadThreads, a.log)
				statusChan := make(chan launch.Status, 256)
				exited := make(chan int, 1)
				go consumeStatus(statusChan, exited)

				if _, err := orch.Launch(cmd.Context(), inst, account, statusChan); err != nil {
					close(statusChan)
					return err
				}

				select {
				case code := <-exited:
					if code != 0 {
						return fmt.Errorf("game exited with code %d", code)
					}
					return nil
				case <-cmd.Context().Done():
					fmt.Println("Stopping game...")
					if err := orch.Stop(); err != nil {
						return err
					}
					<-exited
					return nil
				}
			})
		},
	}
	return cmd
}

// consumeStatus prints pipeline events until the exit event arrives, then
// reports the exit code on exited.
func consumeStatus(statusChan <-chan launch.Status, exited chan<- int) {
	lastStep := ""
	for st := range statusChan {
		switch {
		case st.ExitCode != nil:
			fmt.Printf("Game exited with code %d\n", *st.ExitCode)
			exited <- *st.ExitCode
			return
		case st.Log != nil:
			fmt.Printf("[game] %s\n", st.Log.Text)
		case st.Message != "":
			if st.Step != lastStep {
				lastStep = st.Step
				fmt.Println()
			}
			fmt.Printf("\r%-70s", fmt.Sprintf("[%s] %s", st.Step, st.Message))
		case st.Step != lastStep:
			lastStep = st.Step
			fmt.Printf("\n[%s]\n", st.Step)
		}
	}
	exited <- 0
}

// --- helpers ---

type app struct {
	paths    config.Paths
	settings config.Settings
	log      *slog.Logger
}

func withApp(fn func(*app) error) error {
	paths := config.DefaultPaths()
	if dir := viper.GetString("data-dir"); dir != "" {
		paths = config.Paths{Root: dir}
	}
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	settings, err := config.NewSettingsStore(paths.Root).Load()
	if err != nil {
		return err
	}
	a := &app{paths: paths, settings: settings, log: logger.New(viper.GetString("log-level"))}
	return fn(a)
}

func (a *app) authService() *auth.Service {
	clientID := a.settings.ClientID
	if clientID == "" {
		clientID = config.ClientID
	}
	return auth.NewService(api.NewAuthClient(clientID), auth.NewKeyringStore(), a.log)
}

func (a *app) mojang() *api.MojangClient {
	return api.NewMojangClient(a.paths.VersionsDir())
}

func (a *app) instances() (*core.InstanceStore, error) {
	store := core.NewInstanceStore(a.paths.InstancesDir())
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func findInstance(store *core.InstanceStore, ref string) (core.InstanceConfig, bool) {
	if inst, ok := store.Get(ref); ok {
		return inst, true
	}
	for _, inst := range store.List() {
		if strings.EqualFold(inst.Name, ref) {
			return inst, true
		}
	}
	return core.InstanceConfig{}, false
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
