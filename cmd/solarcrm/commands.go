package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	sccserver "github.com/HendryAvila/solarcrm/internal/server"
	"github.com/HendryAvila/solarcrm/internal/tui"
)

func serveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := seedIfEmpty(ctx, app); err != nil {
				return err
			}

			if addr := app.Config.Metrics.Addr; addr != "" {
				go func() {
					if err := app.Metrics.Serve(ctx, addr, app.Logger); err != nil {
						app.Logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
					}
				}()
			}
			go func() {
				if err := app.Dispatcher.Run(ctx); err != nil {
					app.Logger.Warn("reminder dispatcher", "error", err)
				}
			}()

			app.Logger.Info("solarcrm ready", "version", sccserver.Version, "data_dir", app.Config.DataDir)
			return server.ServeStdio(sccserver.New(app))
		},
	}
}

// seedIfEmpty creates the template pipelines on a fresh database.
func seedIfEmpty(ctx context.Context, app *sccserver.App) error {
	b, err := app.Service.Board(ctx)
	if err != nil {
		return err
	}
	if len(b.CategoryIDs) > 0 {
		return nil
	}
	tmpl, err := config.LoadTemplates(app.Config.Templates.Path)
	if err != nil {
		return err
	}
	_, err = app.Service.SeedFromTemplates(ctx, tmpl)
	return err
}

func seedCmd(g *globals) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the pipelines from the template file (existing ones are skipped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			if path == "" {
				path = app.Config.Templates.Path
			}
			tmpl, err := config.LoadTemplates(path)
			if err != nil {
				return err
			}
			rep, err := app.Service.SeedFromTemplates(cmd.Context(), tmpl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "categories created: %d, pipelines created: %d, skipped: %d\n",
				rep.CategoriesCreated, rep.PipelinesCreated, rep.PipelinesSkipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "templates", "", "Template file (default: templates.path or the built-in template)")
	return cmd
}

func boardCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the deal board",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			sum, err := app.Service.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderBoard(sum))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the board as JSON")
	return cmd
}

func dealCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Create and inspect deals",
	}

	var (
		nd    crm.NewDeal
		value float64
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a deal",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			nd.Value = crm.ToCents(value)
			d, err := app.Service.CreateDeal(cmd.Context(), nd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", d.ID)
			return nil
		},
	}
	add.Flags().StringVar(&nd.Name, "name", "", "Deal name")
	add.Flags().Float64Var(&value, "value", 0, "Deal value in currency units")
	add.Flags().StringVar(&nd.StageID, "stage-id", "", "Stage ID")
	add.Flags().StringVar(&nd.StageName, "stage", "", "Stage name")
	add.Flags().StringVar(&nd.PipelineID, "pipeline", "", "Pipeline ID for stage name lookups")
	add.Flags().StringVar(&nd.ContactID, "contact", "", "Contact ID")
	_ = add.MarkFlagRequired("name")

	show := &cobra.Command{
		Use:   "show DEAL_ID",
		Short: "Show a deal with its invoices, payments and reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			detail, err := app.Service.GetDeal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), detail)
		},
	}

	var (
		amount float64
		note   string
	)
	pay := &cobra.Command{
		Use:   "pay DEAL_ID",
		Short: "Record a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			d, _, err := app.Service.RecordPayment(cmd.Context(), args[0], crm.ToCents(amount), note)
			if err != nil {
				return err
			}
			cur := app.Service.Currency()
			fmt.Fprintf(cmd.OutOrStdout(), "paid %s of %s invoiced\n",
				crm.FormatMoney(d.PaymentStatus.Paid, cur), crm.FormatMoney(d.PaymentStatus.Invoiced, cur))
			return nil
		},
	}
	pay.Flags().Float64Var(&amount, "amount", 0, "Amount in currency units")
	pay.Flags().StringVar(&note, "note", "", "Payment reference")
	_ = pay.MarkFlagRequired("amount")

	cmd.AddCommand(add, show, pay)
	return cmd
}

func moveCmd(g *globals) *cobra.Command {
	var (
		pipelineID string
		index      int
		yes        bool
		no         bool
		answers    string
	)
	cmd := &cobra.Command{
		Use:   "move DEAL_ID STAGE",
		Short: "Move a deal to a stage (by name or ID) and run its milestone",
		Long: `Move a deal to a stage. The move always happens. Milestone prompts are
asked interactively unless --yes, --no or --answers is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes && no {
				return errors.New("--yes and --no are mutually exclusive")
			}
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}

			var c pipeline.Confirmer
			switch {
			case answers != "":
				c = &pipeline.AnswerSet{Sequence: pipeline.ParseAnswers(answers)}
			case yes || no:
				c = pipeline.Always(yes)
			default:
				c = tui.NewConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
			}

			req := crm.MoveRequest{DealID: args[0], PipelineID: pipelineID, Index: index, Confirmer: c}
			b, err := app.Service.Board(cmd.Context())
			if err != nil {
				return err
			}
			if _, ok := b.Stages[args[1]]; ok {
				req.StageID = args[1]
			} else {
				req.StageName = args[1]
			}

			rep, err := app.Service.MoveDeal(cmd.Context(), req)
			if err != nil {
				return err
			}
			printMove(cmd.OutOrStdout(), rep, app.Service.Currency())
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "Pipeline to look the stage name up in (default: the deal's)")
	cmd.Flags().IntVar(&index, "index", -1, "Position in the destination stage (default: append)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept every milestone prompt")
	cmd.Flags().BoolVar(&no, "no", false, "Decline every milestone prompt")
	cmd.Flags().StringVar(&answers, "answers", "", "Answers in prompt order, e.g. yes,no")
	return cmd
}

func printMove(w io.Writer, rep *crm.MoveReport, currency string) {
	fmt.Fprintf(w, "%s: %s -> %s\n", rep.Deal.Name, rep.From.Name, rep.To.Name)
	for _, a := range rep.Answers {
		fmt.Fprintf(w, "  %s %v\n", a.Prompt.Question, a.Accepted)
	}
	if rep.Confirmed {
		fmt.Fprintf(w, "invoiced %s -> %s\n",
			crm.FormatMoney(rep.InvoicedBefore, currency), crm.FormatMoney(rep.InvoicedAfter, currency))
	} else if len(rep.Answers) > 0 {
		fmt.Fprintln(w, "declined, nothing invoiced")
	}
	for _, r := range rep.Reminders {
		fmt.Fprintf(w, "reminder due %s\n", r.DueAt.Local().Format("2006-01-02 15:04"))
	}
	for _, e := range rep.PublishErrors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}

func stageCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Rename stages and set their milestones",
	}

	rename := &cobra.Command{
		Use:   "rename STAGE_ID NAME",
		Short: "Rename a stage (its milestone is kept)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			if err := app.Service.RenameStage(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stage %s renamed to %q\n", args[0], args[1])
			return nil
		},
	}

	milestone := &cobra.Command{
		Use:   "milestone STAGE_ID MILESTONE",
		Short: "Set a stage's milestone (none, grid_request, grid_approval, shipment, installation_complete)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := pipeline.Milestone(args[1])
			if err := pipeline.ValidateMilestone(m); err != nil {
				return err
			}
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			if err := app.Service.SetStageMilestone(cmd.Context(), args[0], m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stage %s milestone set to %s\n", args[0], m)
			return nil
		},
	}

	cmd.AddCommand(rename, milestone)
	return cmd
}

func remindCmd(g *globals) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Deliver due reminders (continuously, or once with --once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := g.open()
			defer cleanup()
			if err != nil {
				return err
			}
			if once {
				n := app.Dispatcher.CheckOnce(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "delivered %d reminders\n", n)
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if addr := app.Config.Metrics.Addr; addr != "" {
				go func() {
					if err := app.Metrics.Serve(ctx, addr, app.Logger); err != nil {
						app.Logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
					}
				}()
			}
			return app.Dispatcher.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Check once and exit")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
