package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
	"github.com/MrEthical07/goLinkAuth/password"
)

func newSweepCmd(opts *globalOptions) *cobra.Command {
	var principal string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete consumed and expired magic-link tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dc, err := loadDaemonConfig(opts.configPath, opts.dev)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), dc, false)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.SweepExpiredTokens(cmd.Context(), principal, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d tokens\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "only sweep tokens of this principal ID")
	return cmd
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential store schema",
	}

	run := func(fn func(cmd *cobra.Command, dc daemonConfig) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			dc, err := loadDaemonConfig(opts.configPath, opts.dev)
			if err != nil {
				return err
			}
			return fn(cmd, dc)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(cmd *cobra.Command, dc daemonConfig) error {
				store, err := openStore(cmd.Context(), dc, true)
				if err != nil {
					return err
				}
				defer store.Close()
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert every migration",
			RunE: run(func(cmd *cobra.Command, dc daemonConfig) error {
				store, err := openStore(cmd.Context(), dc, false)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.MigrateDown(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema removed")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: run(func(cmd *cobra.Command, dc daemonConfig) error {
				store, err := openStore(cmd.Context(), dc, false)
				if err != nil {
					return err
				}
				defer store.Close()
				version, dirty, err := store.MigrationVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%v\n", version, dirty)
				return nil
			}),
		},
	)
	return cmd
}

func newOverrideCmd(opts *globalOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Inspect or toggle the runtime emergency override",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "administrator principal ID performing the change")

	set := func(enabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if actor == "" {
				return errors.New("--actor is required")
			}
			st, err := buildStack(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.engine.SetEmergencyOverride(cmd.Context(), actor, enabled); err != nil {
				return err
			}
			return printOverride(cmd, st.engine)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "enable", Short: "Skip second-factor checks for every login", RunE: set(true)},
		&cobra.Command{Use: "disable", Short: "Restore second-factor checks", RunE: set(false)},
		&cobra.Command{
			Use:   "status",
			Short: "Print the override state",
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := buildStack(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer st.Close()
				return printOverride(cmd, st.engine)
			},
		},
	)
	return cmd
}

func printOverride(cmd *cobra.Command, engine *goLinkAuth.Engine) error {
	status, err := engine.EmergencyOverrideStatus(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, status)
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the effective security posture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := buildStack(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()
			report, err := st.engine.SecurityReport(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newHashPasswordCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its argon2id hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := goLinkAuth.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			hasher, err := password.NewHasher(cfg.Password.HasherParams())
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return errors.New("empty password")
			}

			hash, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
