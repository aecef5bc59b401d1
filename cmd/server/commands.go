package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/cryptox"
	"github.com/dmitrijs2005/fedid/internal/server"
	"github.com/dmitrijs2005/fedid/internal/server/config"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/scheduler"
	"github.com/spf13/cobra"
)

const tokenBytes = 32

// newCommand applies the settings every subcommand shares: config flags are
// read by config.LoadConfig, so cobra must let them through.
func newCommand(use, short string, run func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		RunE:               run,
	}
}

// withCore opens the database, runs migrations and loads the pepper before
// calling fn.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *server.Core) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	core, err := server.Open(ctx, config.LoadConfig())
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(ctx, core)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		return err
	}
	app.Run(ctx)
	return nil
}

func runCmd() *cobra.Command {
	return newCommand("run", "Run the HTTP API, gRPC health service and scheduler", runServer)
}

func migrateCmd() *cobra.Command {
	return newCommand("migrate", "Apply database migrations and initialize the pepper", func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		})
	})
}

func rotatePepperCmd() *cobra.Command {
	return newCommand("rotate-pepper", "Rotate the lookup pepper and rebuild the hash directory", func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			if !core.Directory.HasSource() {
				return scheduler.ErrRotationWithoutSource
			}
			p, err := core.Peppers.Rotate(ctx)
			core.Metrics.PepperRotations.WithLabelValues(metrics.Result(err)).Inc()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lookup pepper: %s\nprevious pepper: %s\n", p.Current, p.Previous)

			n, err := core.Directory.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d directory rows\n", n)
			return nil
		})
	})
}

func bindCmd() *cobra.Command {
	var rec models.DirectoryRecord
	var inactive bool

	cmd := newCommand("bind", "Make an identifier resolvable to a Matrix address", func(cmd *cobra.Command, args []string) error {
		rec.Active = !inactive
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			if err := core.Directory.Bind(ctx, rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bound %s %s to %s\n", rec.Medium, rec.Value, rec.Address)
			return nil
		})
	})
	cmd.Flags().StringVar(&rec.Medium, "medium", cryptox.MediumEmail, "identifier medium (email|msisdn)")
	cmd.Flags().StringVar(&rec.Value, "value", "", "identifier value")
	cmd.Flags().StringVar(&rec.Address, "address", "", "Matrix user ID, e.g. @alice:example.org")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "bind as an inactive account")
	_ = cmd.MarkFlagRequired("value")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func unbindCmd() *cobra.Command {
	var medium, value string

	cmd := newCommand("unbind", "Remove an identifier from the hash directory", func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			err := core.Directory.Unbind(ctx, medium, value)
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%s %s is not bound", medium, value)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unbound %s %s\n", medium, value)
			return nil
		})
	})
	cmd.Flags().StringVar(&medium, "medium", cryptox.MediumEmail, "identifier medium (email|msisdn)")
	cmd.Flags().StringVar(&value, "value", "", "identifier value")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

// hashCmd prints the lookup hash a client would send. With --pepper it needs
// no database.
func hashCmd() *cobra.Command {
	var medium, value, pepper string

	cmd := newCommand("hash", "Print the lookup hash of an identifier", func(cmd *cobra.Command, args []string) error {
		emit := func(p string) {
			fmt.Fprintln(cmd.OutOrStdout(), cryptox.Hash3PID(cryptox.NormalizeAddress(medium, value), medium, p))
		}
		if pepper != "" {
			emit(pepper)
			return nil
		}
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			emit(core.Peppers.Current())
			return nil
		})
	})
	cmd.Flags().StringVar(&medium, "medium", cryptox.MediumEmail, "identifier medium (email|msisdn)")
	cmd.Flags().StringVar(&value, "value", "", "identifier value")
	cmd.Flags().StringVar(&pepper, "pepper", "", "pepper to hash with (default: the current lookup pepper)")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens for the lookup endpoints",
	}

	var subject string
	create := newCommand("create", "Issue a new access token", func(cmd *cobra.Command, args []string) error {
		if subject == "" {
			return errors.New("--subject must not be empty")
		}
		token, err := common.MakeRandHexString(tokenBytes)
		if err != nil {
			return err
		}
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			if err := core.Repos.Grants(core.DB).Create(ctx, token, subject); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	})
	create.Flags().StringVar(&subject, "subject", "", "Matrix user ID the token is issued for")
	_ = create.MarkFlagRequired("subject")

	revoke := newCommand("revoke", "Revoke an access token", func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: token revoke <token>")
		}
		return withCore(cmd, func(ctx context.Context, core *server.Core) error {
			err := core.Repos.Grants(core.DB).Delete(ctx, args[0])
			if errors.Is(err, common.ErrorNotFound) {
				return errors.New("unknown token")
			}
			return err
		})
	})

	cmd.AddCommand(create, revoke)
	return cmd
}
