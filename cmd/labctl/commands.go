package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"labReport/internal/database"
	"labReport/internal/layout"
	"labReport/internal/report"
	"labReport/internal/reportdata"
	"labReport/internal/storage"
)

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			templates, err := a.templates.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tUPDATED")
			for _, t := range templates {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", t.ID, t.Name, t.Version, t.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <name> <file>",
		Short: "Import a template JSON file, replacing the template with the same name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read template file: %w", err)
			}
			tpl, err := layout.Decode(raw, a.reports.Registry())
			if err != nil {
				return err
			}
			content, err := json.Marshal(tpl)
			if err != nil {
				return fmt.Errorf("encode template: %w", err)
			}

			existing, err := a.templates.GetByName(cmd.Context(), name)
			var saved database.ReportTemplate
			switch {
			case err == nil:
				saved, err = a.templates.Update(cmd.Context(), existing.ID, name, content)
			case errors.Is(err, database.ErrTemplateNotFound):
				saved, err = a.templates.Create(cmd.Context(), name, content)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %q as template %d (version %d, %d nodes)\n",
				saved.Name, saved.ID, saved.Version, tpl.NodeCount())
			return nil
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export a template as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.templates.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append([]byte(t.Content), '\n'))
				return err
			}
			return os.WriteFile(out, t.Content, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newImportDataCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-data <file>",
		Short: "Import project, trial and test data from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read data file: %w", err)
			}
			var r reportdata.Report
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("decode report data: %w", err)
			}
			id, err := a.projects.ImportReport(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported project %d (%d trials)\n", id, len(r.Trials))
			return nil
		},
	}
}

func newProjectsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects available for rendering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := a.projects.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNUMBER\tNAME\tCLIENT")
			for _, p := range projects {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Number, p.Name, p.ClientName)
			}
			return w.Flush()
		},
	}
}

func newRenderCommand(a *app) *cobra.Command {
	var (
		templateName string
		projectID    uint
		out          string
		engine       string
		keep         bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a project report to a PDF file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := a.templates.GetByName(cmd.Context(), templateName)
			if err != nil {
				return err
			}
			req := report.Request{TemplateID: t.ID, ProjectID: projectID, Engine: report.Engine(engine)}
			var res *report.Result
			if keep {
				var key string
				res, key, _, err = a.reports.GenerateAndStore(cmd.Context(), req)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
				}
			} else {
				res, err = a.reports.Generate(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			if out == "" {
				out = res.FileName
			}
			if err := os.WriteFile(out, res.PDF, 0o644); err != nil {
				return fmt.Errorf("write pdf: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d pages, %d bytes)\n", out, res.Pages, len(res.PDF))
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s %s: %s\n", w.Kind, w.InstanceID, w.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&templateName, "template", "t", "", "template name")
	cmd.Flags().UintVarP(&projectID, "project", "p", 0, "project id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default derived from the project name)")
	cmd.Flags().StringVar(&engine, "engine", string(report.EngineNative), "pdf engine: native or browser")
	cmd.Flags().BoolVar(&keep, "store", false, "also keep a copy in asset storage")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newPurgeReportsCommand(a *app) *cobra.Command {
	var projectID uint
	cmd := &cobra.Command{
		Use:   "purge-reports",
		Short: "Delete generated PDFs from asset storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefix := storage.ReportPrefix
			if projectID != 0 {
				prefix += strconv.FormatUint(uint64(projectID), 10) + "/"
			}
			if err := a.assets.DeletePrefix(cmd.Context(), prefix); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", prefix)
			return nil
		},
	}
	cmd.Flags().UintVarP(&projectID, "project", "p", 0, "only this project (default all)")
	return cmd
}
