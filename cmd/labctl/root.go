package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/report"
	"labReport/internal/storage"
)

// app 持有子命令共享的依赖，在 PersistentPreRunE 中初始化。
type app struct {
	cfg       *config.Config
	templates *database.TemplateStore
	projects  *database.ReportSource
	reports   *report.Service
	assets    storage.Store
	logger    *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var verbose bool

	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Manage lab report templates and render reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var out io.Writer = io.Discard
			if verbose {
				out = cmd.ErrOrStderr()
			}
			return a.init(slog.New(slog.NewTextHandler(out, nil)))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newListCommand(a),
		newImportCommand(a),
		newExportCommand(a),
		newImportDataCommand(a),
		newProjectsCommand(a),
		newRenderCommand(a),
		newPurgeReportsCommand(a),
	)
	return root
}

func (a *app) init(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	assets, err := storage.New(cfg.Storage, cfg.MinIO)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.assets = assets
	a.templates = database.NewTemplateStore(db)
	a.projects = database.NewReportSource(db)
	a.reports = report.NewService(a.templates, a.projects, assets, nil, nil, report.OptionsFrom(cfg.Render), logger)
	return nil
}
