// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/export"
	"github.com/jeranaias/deepagro/internal/storage"
)

const historyDateFormat = "2006-01-02 15:04"

func newHistoryCmd(app *App) *cobra.Command {
	list := newHistoryListCmd(app)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear your predictions and consultations",
		Long: `Show or clear the history of the signed-in account.

Without a subcommand, lists the most recent entries.`,
		Args: cobra.NoArgs,
		RunE: list.RunE,
	}
	cmd.Flags().AddFlagSet(list.Flags())
	cmd.AddCommand(list, newHistoryDeleteCmd(app), newHistoryClearCmd(app), newHistoryExportCmd(app))
	return cmd
}

func newHistoryListCmd(app *App) *cobra.Command {
	var (
		typ   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := storage.ParseRecordType(typ)
			if err != nil {
				return usagef("%v", err)
			}
			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("history", "list", err)
			}
			st, err := app.openStore()
			if err != nil {
				return err
			}
			records, err := st.ListHistory(ctx, u.ID, rt, limit)
			if err != nil {
				return NewCommandError("history", "list", err)
			}
			if records == nil {
				records = []storage.Record{}
			}

			tr := app.translator()
			return app.emit("history list", records, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintln(w, DimStyle.Render(tr.T("no_history")))
					return
				}
				rows := make([][]string, len(records))
				for i, r := range records {
					conf := ""
					if r.Confidence > 0 {
						conf = formatPercent(r.Confidence)
					}
					rows[i] = []string{
						strconv.FormatInt(r.ID, 10),
						tr.T("history_type_" + string(r.Type)),
						r.Title,
						r.Result,
						conf,
						r.CreatedAt.Local().Format(historyDateFormat),
					}
				}
				table(w, GetTerminalWidth(),
					[]string{"ID", "TYPE", "TITLE", "RESULT", "CONF", "DATE"},
					[]int{5, 11, 0, 24, 6, 16}, rows)
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "filter: crop, fertilizer, disease or chat")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show (0 = all)")
	return cmd
}

func newHistoryDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return usagef("invalid history id %q", args[0])
			}
			ctx := cmd.Context()
			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("history", "delete", err)
			}
			st, err := app.openStore()
			if err != nil {
				return err
			}
			if err := st.DeleteHistory(ctx, u.ID, id); err != nil {
				return NewCommandError("history", "delete", err)
			}
			return app.emit("history delete", map[string]int64{"deleted": id}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("Deleted entry %d.", id)))
			})
		},
	}
}

func newHistoryClearCmd(app *App) *cobra.Command {
	var (
		typ string
		yes bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := storage.ParseRecordType(typ)
			if err != nil {
				return usagef("%v", err)
			}
			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("history", "clear", err)
			}

			tr := app.translator()
			if !yes {
				answer, err := newPrompter(app.In, app.Err).Line(tr.T("confirm_delete") + " [y/N]")
				if err != nil || !strings.HasPrefix(strings.ToLower(answer), "y") {
					fmt.Fprintln(app.Err, DimStyle.Render(tr.T("cancel")))
					return nil
				}
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			n, err := st.ClearHistory(ctx, u.ID, rt)
			if err != nil {
				return NewCommandError("history", "clear", err)
			}
			return app.emit("history clear", map[string]int64{"deleted": n}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(tr.T("history_cleared", "count", n)))
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only clear one type: crop, fertilizer, disease or chat")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newHistoryExportCmd(app *App) *cobra.Command {
	var (
		typ, format, theme string
		opts               = export.DefaultOptions()
		summary            bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save your history as a Markdown, JSON or HTML file",
		Example: `  deepagro history export
  deepagro history export --format html --type crop -o ~/Documents`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := storage.ParseRecordType(typ)
			if err != nil {
				return usagef("%v", err)
			}
			opts.IncludeDetails = !summary
			if theme != "" {
				opts.Theme = theme
			} else if app.Config().UI.Theme == "dark" {
				opts.Theme = "dark"
			}
			exp, err := export.ForFormat(format, opts)
			if err != nil {
				return usagef("%v", err)
			}

			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("history", "export", err)
			}
			st, err := app.openStore()
			if err != nil {
				return err
			}
			records, err := st.ListHistory(ctx, u.ID, rt, 0)
			if err != nil {
				return NewCommandError("history", "export", err)
			}

			rep := &export.Report{Owner: u.Name, Type: rt, Records: records, Generated: time.Now()}
			path, err := export.ExportToFile(rep, exp, opts)
			if errors.Is(err, export.ErrEmpty) {
				return NewCommandError("history", "export", fmt.Errorf("%s: %w", app.translator().T("no_history"), storage.ErrNotFound))
			}
			if err != nil {
				return NewCommandError("history", "export", err)
			}
			return app.emit("history export", map[string]any{"path": path, "entries": len(records)}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("Exported %d entries to %s", len(records), path)))
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&typ, "type", "t", "", "only export one type: crop, fertilizer, disease or chat")
	fs.StringVarP(&format, "format", "f", "md", "file format: "+strings.Join(export.Formats, ", "))
	fs.StringVarP(&opts.OutputDir, "output", "o", ".", "directory to write the file to")
	fs.StringVar(&theme, "theme", "", "HTML theme, light or dark (default follows ui.theme)")
	fs.BoolVar(&summary, "summary", false, "only the summary table, without readings and chat replies")
	return cmd
}
