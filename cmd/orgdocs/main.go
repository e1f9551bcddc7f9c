package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/myrespondr/orgdocs/internal/config"
	"github.com/myrespondr/orgdocs/internal/database"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "orgdocs: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgdocs",
		Short: "orgdocs development CLI",
		Long: `Development workflows for the orgdocs service: the docker stack
(postgres, minio, redis, server, worker), schema provisioning, profile
seeding for the org-fallback path, tests, and running the binaries directly.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file for stack commands")
	cmd.AddCommand(
		newStackCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose stack",
	}

	var detach, skipBuild bool
	up := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the stack (postgres, minio, redis, server, worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := args
			if !skipBuild {
				extra = append([]string{"--build"}, extra...)
			}
			if detach {
				extra = append([]string{"-d"}, extra...)
			}
			return compose(cmd.Context(), "up", extra...)
		},
	}
	up.Flags().BoolVarP(&detach, "detached", "d", true, "Run detached")
	up.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images")

	var removeVolumes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			if removeVolumes {
				return compose(cmd.Context(), "down", "-v")
			}
			return compose(cmd.Context(), "down")
		},
	}
	down.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove stack volumes (drops the database and bucket)")

	var follow bool
	logs := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Tail service logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := args
			if follow {
				extra = append([]string{"-f"}, extra...)
			}
			return compose(cmd.Context(), "logs", extra...)
		},
	}
	logs.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs continuously")

	cmd.AddCommand(up, down, logs)
	return cmd
}

// newMigrateCmd provisions the schema in-process, the same bootstrap the
// server runs at startup. Useful against a database the stack does not own.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the organization_documents and user_profiles tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Println("schema is up to date")
			return nil
		},
	}
}

// newSeedCmd writes a user_profiles row so sign-ins for that user resolve an
// organization through the fallback lookup.
func newSeedCmd() *cobra.Command {
	var userID, orgID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Map a user to an organization in user_profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || orgID == "" {
				return fmt.Errorf("--user and --org are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			_, err = pool.Exec(ctx, `
				INSERT INTO user_profiles (user_id, org_id) VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE SET org_id = EXCLUDED.org_id
			`, userID, orgID)
			if err != nil {
				return fmt.Errorf("seed profile: %w", err)
			}
			fmt.Printf("user %s now belongs to %s\n", userID, orgID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to map")
	cmd.Flags().StringVar(&orgID, "org", "", "Organization id to assign")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			return runCommand(cmd.Context(), "go", append(goArgs, pkgs...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a binary directly without the stack",
	}
	for _, svc := range []struct{ name, path string }{
		{"server", "./cmd/server"},
		{"worker", "./cmd/worker"},
	} {
		path := svc.path
		cmd.AddCommand(&cobra.Command{
			Use:   svc.name,
			Short: fmt.Sprintf("go run %s", path),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return cmd
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("ORGDOCS_DATABASE_URL is not set")
	}
	return database.Connect(ctx, cfg.DatabaseURL)
}

func compose(ctx context.Context, verb string, extra ...string) error {
	args := append([]string{"compose", "-f", composeFile, verb}, extra...)
	return runCommand(ctx, "docker", args...)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
