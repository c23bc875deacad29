package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/divsync/internal/config"
	"github.com/flemzord/divsync/internal/security"
	"github.com/flemzord/divsync/pkg/app"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(), configInitCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := runParams(cmd)
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}

			ids, err := app.Check(params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}

			if show, _ := cmd.Flags().GetBool("print"); show {
				return printEffective(cmd, params.ConfigPath)
			}
			return nil
		},
	}
	cmd.Flags().Bool("print", false, "Print the effective configuration with secrets redacted")
	return cmd
}

// printEffective prints the loaded configuration after environment
// expansion, with secret-looking values redacted.
func printEffective(cmd *cobra.Command, path string) error {
	if path == "" {
		resolved, err := app.ResolveConfigPath()
		if err != nil {
			return err
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	m, err := config.ToMap(cfg)
	if err != nil {
		return err
	}
	security.NewRedactor().RedactMap(m)

	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("config: rendering: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s", out)
	return nil
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: "Write a starter configuration file. Without --source-url the " +
			"answers are collected through an interactive form.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			var opts config.StarterOptions
			opts.SourceURL, _ = cmd.Flags().GetString("source-url")
			opts.Store, _ = cmd.Flags().GetString("store")
			opts.PostgresDSN, _ = cmd.Flags().GetString("postgres-dsn")
			opts.RedisAddr, _ = cmd.Flags().GetString("redis-addr")
			opts.GatewayBind, _ = cmd.Flags().GetString("gateway-bind")
			opts.NodeID, _ = cmd.Flags().GetString("node-id")
			opts.TokenEnv, _ = cmd.Flags().GetString("token-env")

			if opts.SourceURL == "" {
				if err := starterForm(&opts).Run(); err != nil {
					return err
				}
			}

			out, err := config.RenderStarter(opts)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, out, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "divsync.yaml", "Where to write the configuration")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	cmd.Flags().String("source-url", "", "Base URL of the remote division sessions API")
	cmd.Flags().String("token-env", "", "Environment variable holding the API token (default DIVSYNC_SOURCE_TOKEN)")
	cmd.Flags().String("store", "store.sqlite", "Store module: store.sqlite or store.postgres")
	cmd.Flags().String("postgres-dsn", "", "Postgres DSN when --store=store.postgres")
	cmd.Flags().String("redis-addr", "", "Redis address; moves the lease to store.redis")
	cmd.Flags().String("gateway-bind", "", "Enable the operator gateway on this address")
	cmd.Flags().String("node-id", "", "Node identifier (default ${HOSTNAME})")
	return cmd
}

func starterForm(o *config.StarterOptions) *huh.Form {
	if o.Store == "" {
		o.Store = "store.sqlite"
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Remote API base URL").
				Placeholder("https://api.example.com").
				Validate(validateURL).
				Value(&o.SourceURL),
			huh.NewInput().
				Title("Environment variable holding the API token").
				Placeholder("DIVSYNC_SOURCE_TOKEN").
				Value(&o.TokenEnv),
			huh.NewInput().
				Title("Node identifier").
				Description("Leave empty to use $HOSTNAME.").
				Value(&o.NodeID),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Store for the ledger, sessions and lease").
				Options(
					huh.NewOption("SQLite (single host)", "store.sqlite"),
					huh.NewOption("PostgreSQL (shared by the fleet)", "store.postgres"),
				).
				Value(&o.Store),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("PostgreSQL DSN").
				Placeholder("postgres://divsync@db:5432/divsync?sslmode=disable").
				Validate(func(s string) error {
					if s == "" {
						return errors.New("a DSN is required")
					}
					return nil
				}).
				Value(&o.PostgresDSN),
		).WithHideFunc(func() bool { return o.Store != "store.postgres" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Redis address for the lease").
				Description("Leave empty to keep the lease in the store.").
				Value(&o.RedisAddr),
			huh.NewInput().
				Title("Operator gateway bind address").
				Description("Leave empty to disable the gateway.").
				Placeholder("127.0.0.1:9090").
				Value(&o.GatewayBind),
		),
	)
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("enter an absolute URL such as https://api.example.com")
	}
	return nil
}
