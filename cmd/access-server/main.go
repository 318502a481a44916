// Command access-server runs the hospital access lifecycle API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-access"
	"github.com/goliatone/go-access/config"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "access-server",
		Short:        "Hospital credential and access approval API",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Optional config file (env vars use the ACCESS_ prefix)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(registerHospitalCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadApp(cmd *cobra.Command) (*App, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	return NewApp(cmd.Context(), cfg)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
				if err := app.Migrate(cmd.Context()); err != nil {
					return err
				}
			}

			return runServer(app)
		},
	}
	cmd.Flags().Bool("migrate", true, "Create missing tables before serving")
	return cmd
}

func runServer(app *App) error {
	logger := app.GetLogger("server")
	errs := make(chan error, 2)

	srv := app.HTTPServer()
	go func() {
		logger.Info("http server listening", "addr", app.config.HTTPAddr)
		errs <- srv.Serve(app.config.HTTPAddr)
	}()

	metricsSrv := app.MetricsServer()
	if metricsSrv != nil {
		go func() {
			logger.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	select {
	case sig := <-waitExitSignal():
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errs:
		if err != nil {
			logger.Error("server stopped", "error", err)
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return srv.WrappedRouter().ShutdownWithContext(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}
}

func registerHospitalCmd() *cobra.Command {
	req := access.RegisterHospitalRequest{}
	cmd := &cobra.Command{
		Use:   "register-hospital",
		Short: "Register a hospital and its administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Migrate(cmd.Context()); err != nil {
				return err
			}

			res, err := app.service.RegisterHospital(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(res))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.HospitalName, "name", "", "Hospital name")
	flags.StringVar(&req.HospitalEmail, "email", "", "Hospital contact email")
	flags.StringVar(&req.HospitalPhone, "phone", "", "Hospital contact phone")
	flags.StringVar(&req.AdminName, "admin-name", "", "Administrator name")
	flags.StringVar(&req.AdminEmail, "admin-email", "", "Administrator email")
	flags.StringVar(&req.AdminPassword, "admin-password", "", "Administrator password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("admin-email")
	_ = cmd.MarkFlagRequired("admin-password")

	return cmd
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
