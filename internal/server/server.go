// Package server wires all CRM components and creates the MCP server.
//
// This is the composition root: it opens the database, picks the event
// publisher, creates the metrics and the service, and injects them into
// the tools, prompts and resources. No business logic lives here.
package server

import (
	"fmt"
	"log/slog"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/crmdb"
	"github.com/HendryAvila/solarcrm/internal/events"
	"github.com/HendryAvila/solarcrm/internal/metrics"
	"github.com/HendryAvila/solarcrm/internal/prompts"
	"github.com/HendryAvila/solarcrm/internal/reminders"
	"github.com/HendryAvila/solarcrm/internal/resources"
	"github.com/HendryAvila/solarcrm/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds the shared dependencies of every command.
type App struct {
	Config     config.Config
	Store      *crmdb.Store
	Service    *crm.Service
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	Dispatcher *reminders.Dispatcher
	Logger     *slog.Logger
}

// connectNATS is replaced in tests.
var connectNATS = events.ConnectNATS

// Open creates the application from cfg. The returned cleanup function
// drains the broker connection and closes the database; it is always
// non-nil and safe to call even when Open failed.
func Open(cfg config.Config, logger *slog.Logger) (*App, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := crmdb.New(crmdb.Config{DataDir: cfg.DataDir, MaxSearchResults: crmdb.DefaultConfig().MaxSearchResults})
	if err != nil {
		return nil, noop, fmt.Errorf("opening database: %w", err)
	}
	closers := []func() error{store.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}

	// Events are always logged. NATS is optional: when the broker is
	// unreachable the CRM keeps working with log-only events.
	var pub events.Publisher = events.LogPublisher{Logger: logger}
	if cfg.NATS.URL != "" {
		nc, err := connectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("event broker disabled", "url", cfg.NATS.URL, "error", err)
		} else {
			closers = append(closers, nc.Close)
			pub = events.Multi{pub, nc}
		}
	}

	m := metrics.New()
	svc := crm.New(store, crm.Options{
		Publisher:     pub,
		Metrics:       m,
		ReminderDelay: cfg.Reminders.Delay,
		Currency:      cfg.Currency,
		Logger:        logger,
	})

	app := &App{
		Config:     cfg,
		Store:      store,
		Service:    svc,
		Publisher:  pub,
		Metrics:    m,
		Dispatcher: reminders.NewDispatcher(store, pub, m, cfg.Reminders.PollInterval, logger),
		Logger:     logger,
	}
	return app, cleanup, nil
}

// New creates the MCP server with all tools, prompts and resources
// registered.
func New(app *App) *server.MCPServer {
	s := server.NewMCPServer(
		"solarcrm",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	svc := app.Service

	// --- Board & pipelines ---
	board := tools.NewBoardTool(svc)
	s.AddTool(board.Definition(), board.Handle)

	createPipeline := tools.NewCreatePipelineTool(svc)
	s.AddTool(createPipeline.Definition(), createPipeline.Handle)

	updateStage := tools.NewUpdateStageTool(svc)
	s.AddTool(updateStage.Definition(), updateStage.Handle)

	// --- Deals ---
	createDeal := tools.NewCreateDealTool(svc)
	s.AddTool(createDeal.Definition(), createDeal.Handle)

	getDeal := tools.NewGetDealTool(svc)
	s.AddTool(getDeal.Definition(), getDeal.Handle)

	moveDeal := tools.NewMoveDealTool(svc)
	s.AddTool(moveDeal.Definition(), moveDeal.Handle)

	// --- Ledger ---
	recordPayment := tools.NewRecordPaymentTool(svc)
	s.AddTool(recordPayment.Definition(), recordPayment.Handle)

	listInvoices := tools.NewListInvoicesTool(svc)
	s.AddTool(listInvoices.Definition(), listInvoices.Handle)

	// --- Reminders ---
	listReminders := tools.NewListRemindersTool(svc)
	s.AddTool(listReminders.Definition(), listReminders.Handle)

	scheduleReminder := tools.NewScheduleReminderTool(svc)
	s.AddTool(scheduleReminder.Definition(), scheduleReminder.Handle)

	// --- Contacts & notes ---
	createContact := tools.NewCreateContactTool(svc)
	s.AddTool(createContact.Definition(), createContact.Handle)

	listContacts := tools.NewListContactsTool(svc)
	s.AddTool(listContacts.Definition(), listContacts.Handle)

	addNote := tools.NewAddNoteTool(svc)
	s.AddTool(addNote.Definition(), addNote.Handle)

	searchNotes := tools.NewSearchNotesTool(svc)
	s.AddTool(searchNotes.Definition(), searchNotes.Handle)

	// --- Prompts ---
	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Resources ---
	rh := resources.NewHandler(svc)
	s.AddResource(rh.BoardResource(), rh.HandleBoard)
	s.AddResource(rh.RemindersResource(), rh.HandleReminders)

	return s
}

// noop is the cleanup returned when Open fails before owning anything.
func noop() {}

// serverInstructions tells the AI how to use the CRM.
func serverInstructions() string {
	return `You have access to solarcrm, the deal pipeline of a small solar installation business.

## Model
Deals sit in stages of a pipeline (e.g. Lead, Angebot, Netzanfrage, ...). Pipelines
belong to a category (e.g. Photovoltaik). Amounts are shown in the configured currency.

## Milestone stages
Moving a deal INTO one of these stages asks yes/no questions and, if all are
answered yes, issues an invoice:
- Netzanfrage: send customer data to the technician, invoice +10% of value,
  follow-up reminder in 5 days
- Netzbestätigung: was the grid request approved? then invoice +50% and email it
- Warenversand: invoiced amount set to 90% of value
- Montage abgeschlossen: send final documentation, invoiced set to 100%

The move itself ALWAYS happens. Answering "no" only skips the invoice.

## Rules
1. NEVER answer milestone questions yourself. Ask the user, then call
   crm_move_deal with their answers ('answers' = "yes,no" in question order).
2. Use crm_board to look up deal and stage IDs before moving deals.
3. Record money received with crm_record_payment; invoices are created only by
   milestones.
4. Deals moved backwards and forwards again re-run the milestone; warn the user
   before moving a deal into a milestone stage it has already passed.
5. A stage's milestone is a tag, not its name: renaming with crm_update_stage keeps
   it, and crm_update_stage can also retag a stage.`
}
