package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"hrb-go/internal/app"
	"hrb-go/internal/config"
	"hrb-go/internal/database"
	"hrb-go/internal/hrb"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an HRBApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Diff").
func newApp(cmd *cobra.Command, operation string) (*app.HRBApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewHRBApp(cmd.Context(), cfg, operation, app.Options{
		Verbose:  verbose,
		Password: promptPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func promptPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal; set transport.http_password")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// targets resolves the --collection, --dir and --all flags.
func targets(cmd *cobra.Command, a *app.HRBApp) ([]config.CollectionConfig, error) {
	collection, _ := cmd.Flags().GetString("collection")
	dir, _ := cmd.Flags().GetString("dir")
	all, _ := cmd.Flags().GetBool("all")
	return a.Targets(collection, dir, all)
}

var rootCmd = &cobra.Command{
	Use:          "hrbsync",
	Short:        "Synchronize local directories with HeartyRabbit collections",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = defaults["user"]
		}
		if user == "" {
			return fmt.Errorf("cannot determine user; pass --user or set HRB_USER")
		}

		cfg := config.NewConfig(user, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User:     %s\n", user)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("User:      %s\n", cfg.User)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Backend:   %s\n", orNone(cfg.Backend.Addr))
		fmt.Printf("Transport: %s\n", cfg.Transport.Type)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Rendition: %s\n", cfg.Sync.Rendition)
		if len(cfg.Collections) > 0 {
			fmt.Println("\nCollections:")
			for _, cc := range cfg.Collections {
				fmt.Printf("  %-20s %s\n", cc.Name, cc.Dir)
			}
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the sync history database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		if err := database.MigrateFromConfig(cfg.Database); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check the configured credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Login")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Login succeeded.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload and download blobs until both sides agree",
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := hrb.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		bindings, err := targets(cmd, a)
		if err != nil {
			return err
		}

		var failed error
		for _, target := range bindings {
			report, err := a.Sync(cmd.Context(), target, mode, printItem)
			if err != nil {
				return fmt.Errorf("syncing %s: %w", target.Name, err)
			}
			fmt.Printf("%s: %d uploaded, %d downloaded, %d failed (%s)\n",
				target.Name,
				count(report, hrb.DirectionUpload),
				count(report, hrb.DirectionDownload),
				report.Failed(),
				report.Status(),
			)
			if len(report.Drift) > 0 {
				fmt.Printf("%s: %d blob(s) with differing metadata left untouched\n", target.Name, len(report.Drift))
			}
			if err := report.Err(); err != nil {
				failed = errors.Join(failed, fmt.Errorf("%s: %w", target.Name, err))
			}
		}
		return failed
	},
}

func printItem(it hrb.ItemResult) {
	if it.Err != nil {
		fmt.Printf("! %-8s %s  %s: %v\n", it.Direction, it.ID.String()[:12], it.Filename, it.Err)
		return
	}
	fmt.Printf("  %-8s %s  %s\n", it.Direction, it.ID.String()[:12], it.Filename)
}

func count(r *hrb.Report, d hrb.Direction) int {
	n := 0
	for _, it := range r.Items {
		if it.Direction == d && it.Err == nil {
			n++
		}
	}
	return n
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show what a sync would transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd, "Diff")
		if err != nil {
			return err
		}
		defer a.Close()

		bindings, err := targets(cmd, a)
		if err != nil {
			return err
		}

		for _, target := range bindings {
			c, err := a.Diff(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("comparing %s: %w", target.Name, err)
			}
			if asJSON {
				if err := printDiffJSON(c); err != nil {
					return err
				}
				continue
			}
			printDiff(target.Name, c)
		}
		return nil
	},
}

func printDiff(name string, c *hrb.Comparison) {
	if c.Empty() && len(c.Drift) == 0 {
		fmt.Printf("%s: up to date\n", name)
		return
	}
	fmt.Printf("%s:\n", name)
	for id, e := range c.Upload.All() {
		fmt.Printf("  > %s  %s\n", id.String()[:12], e.Filename)
	}
	for id, e := range c.Download.All() {
		fmt.Printf("  < %s  %s\n", id.String()[:12], e.Filename)
	}
	for _, d := range c.Drift {
		fmt.Printf("  ~ %s  %s / %s\n", d.ID.String()[:12], d.Local.Filename, d.Remote.Filename)
	}
}

func printDiffJSON(c *hrb.Comparison) error {
	drift := make([]hrb.ObjectID, 0, len(c.Drift))
	for _, d := range c.Drift {
		drift = append(drift, d.ID)
	}
	out, err := json.MarshalIndent(struct {
		Upload   *hrb.Collection `json:"upload"`
		Download *hrb.Collection `json:"download"`
		Drift    []hrb.ObjectID  `json:"drift"`
	}{c.Upload, c.Download, drift}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding comparison: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [SESSION]",
	Short: "View sync sessions, or the transfers of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			items, err := a.SessionItems(args[0])
			if err != nil {
				return err
			}
			for _, it := range items {
				status := "ok"
				if it.Error != "" {
					status = it.Error
				}
				fmt.Printf("%-8s %s  %s  %s\n", it.Direction, it.ID.String()[:12], it.Filename, status)
			}
			return nil
		}

		sessions, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sync sessions recorded.")
			return nil
		}

		for _, s := range sessions {
			d := s.FinishedAt.Sub(s.StartedAt).Truncate(time.Millisecond)
			fmt.Printf("%s  %-15s  %s  %-8s  +%d -%d !%d  %s\n",
				s.ID,
				s.Collection,
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				s.Status,
				s.Uploads,
				s.Downloads,
				s.Failures,
				d,
			)
		}
		return nil
	},
}

// recent command
var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest blobs in the time index",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "Recent")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %s\n", e.Timestamp.Time().Local().Format("2006-01-02 15:04:05"), e.ID)
		}
		return nil
	},
}

// collections command
var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List the collections stored on the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Collections")
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.Collections(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("collection", "c", "", "Collection name")
	cmd.Flags().StringP("dir", "d", "", "Local directory bound to the collection")
	cmd.Flags().BoolP("all", "a", false, "Act on every configured collection")
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Also log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringP("user", "u", "", "HeartyRabbit user name")
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(syncCmd)
	addTargetFlags(syncCmd)
	syncCmd.Flags().StringP("mode", "m", "both", "Transfer direction: both, upload or download")
	rootCmd.AddCommand(diffCmd)
	addTargetFlags(diffCmd)
	diffCmd.Flags().Bool("json", false, "Print the comparison as JSON")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show")
	rootCmd.AddCommand(recentCmd)
	recentCmd.Flags().IntP("limit", "n", 20, "Maximum number of blobs to show")
	rootCmd.AddCommand(collectionsCmd)
}
