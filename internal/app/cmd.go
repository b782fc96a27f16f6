package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はCLIのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして起動する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "carelink",
		Short:         "CareLink API server",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(w, CommandServe)
		},
	}

	root.AddCommand(newModeCommand(w, CommandServe, "Run the API server"))
	root.AddCommand(newModeCommand(w, CommandWorker, "Run background cleanup jobs"))
	root.AddCommand(newMigrateCommand(w))
	root.AddCommand(newHealthcheckCommand())

	return root
}

func newModeCommand(w io.Writer, mode Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(w, mode)
		},
	}
}

// MigrateOptions はmigrateサブコマンドのフラグ。
type MigrateOptions struct {
	// Down は戻すマイグレーションの件数。0なら最新まで適用する。
	Down int
	// Status は適用状況の表示だけを行う。
	Status bool
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var opts MigrateOptions

	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply, roll back or inspect database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Down < 0 {
				return fmt.Errorf("--down must not be negative: %d", opts.Down)
			}
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Down, "down", 0, "number of migrations to roll back")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "print the current migration version and exit")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

// newHealthcheckCommand は軽量サブコマンドのため、フル初期化をスキップする。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "server port to probe")
	return cmd
}
