package crm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/crmdb"
	"github.com/HendryAvila/solarcrm/internal/events"
	"github.com/HendryAvila/solarcrm/internal/metrics"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

type fixture struct {
	svc     *Service
	store   *crmdb.Store
	events  *events.Recorder
	metrics *metrics.Metrics
	stages  map[string]string // stage name -> ID
}

var solarTemplate = &config.Templates{Categories: []config.CategoryTemplate{{
	Name: "Photovoltaik",
	Pipelines: []config.PipelineTemplate{{
		Name:   "PV-Anlagen",
		Stages: config.Stages("Lead", "Angebot", "Netzanfrage", "Netzbestätigung", "Warenversand", "Montage abgeschlossen"),
	}},
}}}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := crmdb.New(crmdb.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:   store,
		events:  &events.Recorder{},
		metrics: metrics.New(),
		stages:  make(map[string]string),
	}
	f.svc = New(store, Options{
		Publisher: f.events,
		Metrics:   f.metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	_, err = f.svc.SeedFromTemplates(ctx, solarTemplate)
	require.NoError(t, err)
	b, err := f.svc.Board(ctx)
	require.NoError(t, err)
	for _, st := range b.Stages {
		f.stages[st.Name] = st.ID
	}
	return f
}

func (f *fixture) deal(t *testing.T, name string, value int64) pipeline.Deal {
	t.Helper()
	d, err := f.svc.CreateDeal(context.Background(), NewDeal{Name: name, Value: value, StageName: "Lead"})
	require.NoError(t, err)
	return d
}

func (f *fixture) move(t *testing.T, dealID, stage string, c pipeline.Confirmer) *MoveReport {
	t.Helper()
	rep, err := f.svc.MoveDeal(context.Background(), MoveRequest{
		DealID: dealID, StageID: f.stages[stage], Index: -1, Confirmer: c,
	})
	require.NoError(t, err)
	return rep
}

// --- The milestone sequence ---

func TestMoveDeal_FullMilestoneSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "Dach Müller", 10000)

	steps := []struct {
		stage    string
		invoiced int64
	}{
		{"Netzanfrage", 1000},
		{"Netzbestätigung", 6000},
		{"Warenversand", 9000},
		{"Montage abgeschlossen", 10000},
	}
	for _, step := range steps {
		rep := f.move(t, d.ID, step.stage, pipeline.Always(true))
		assert.True(t, rep.Confirmed, step.stage)
		assert.Equal(t, step.invoiced, rep.InvoicedAfter, step.stage)

		stored, err := f.store.GetDeal(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, step.invoiced, stored.PaymentStatus.Invoiced, "persisted after %s", step.stage)
		assert.Equal(t, f.stages[step.stage], stored.StageID)
	}

	invoices, err := f.svc.ListInvoices(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 4)
	assert.Equal(t, []int{10, 50, 90, 100}, []int{invoices[0].Percent, invoices[1].Percent, invoices[2].Percent, invoices[3].Percent})

	pending, err := f.svc.ListReminders(ctx, pipeline.ReminderPending, d.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "only Netzanfrage schedules a reminder")

	assert.Equal(t, []pipeline.EventKind{
		pipeline.EventDealMoved, pipeline.EventInvoiceIssued, pipeline.EventTechnicianHandoff,
		pipeline.EventDealMoved, pipeline.EventInvoiceIssued, pipeline.EventInvoiceEmail,
		pipeline.EventDealMoved, pipeline.EventInvoiceIssued,
		pipeline.EventDealMoved, pipeline.EventInvoiceIssued, pipeline.EventDocumentationEmail,
	}, f.events.Kinds())

	series, err := testutil.GatherAndCount(f.metrics.Registry(), "solarcrm_milestones_total")
	require.NoError(t, err)
	assert.Equal(t, 4, series, "one confirmed series per milestone")
}

func TestMoveDeal_DeclineStillMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "Dach Müller", 10000)

	for _, stage := range []string{"Netzanfrage", "Netzbestätigung", "Warenversand", "Montage abgeschlossen"} {
		rep := f.move(t, d.ID, stage, pipeline.Always(false))
		assert.False(t, rep.Confirmed, stage)
		assert.Equal(t, int64(0), rep.InvoicedAfter, stage)

		stored, err := f.store.GetDeal(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, f.stages[stage], stored.StageID, "deal relocated despite decline")
		assert.Equal(t, int64(0), stored.PaymentStatus.Invoiced)
	}

	invoices, _ := f.svc.ListInvoices(ctx, d.ID)
	assert.Empty(t, invoices)
	reminders, _ := f.svc.ListReminders(ctx, "", d.ID)
	assert.Empty(t, reminders)
	for _, k := range f.events.Kinds() {
		assert.Equal(t, pipeline.EventDealMoved, k)
	}
}

func TestMoveDeal_PlainStageHasNoEffects(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, "Dach Müller", 10000)

	rep := f.move(t, d.ID, "Angebot", pipeline.Always(true))
	assert.False(t, rep.Confirmed)
	assert.Empty(t, rep.Answers, "no prompts for a plain stage")
	assert.Equal(t, rep.InvoicedBefore, rep.InvoicedAfter)
	assert.Equal(t, "Lead", rep.From.Name)
	assert.Equal(t, "Angebot", rep.To.Name)
}

func TestMoveDeal_ByStageName(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, "Dach Müller", 10000)

	rep, err := f.svc.MoveDeal(context.Background(), MoveRequest{
		DealID: d.ID, StageName: "Warenversand", Index: -1, Confirmer: pipeline.Always(true),
	})
	require.NoError(t, err)
	assert.Equal(t, f.stages["Warenversand"], rep.To.ID)
	assert.Equal(t, int64(9000), rep.InvoicedAfter)
}

func TestMoveDeal_UnknownStageNameHints(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, "Dach Müller", 10000)

	_, err := f.svc.MoveDeal(context.Background(), MoveRequest{DealID: d.ID, StageName: "Warenversandt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrStageNotFound)
	assert.Contains(t, err.Error(), `did you mean "Warenversand"`)
}

func TestMoveDeal_UnknownDeal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MoveDeal(context.Background(), MoveRequest{DealID: "nope", StageID: f.stages["Lead"]})
	assert.ErrorIs(t, err, pipeline.ErrDealNotFound)
}

func TestMoveDeal_PublishFailureKeepsMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "Dach Müller", 10000)
	f.events.Err = errors.New("broker down")

	rep := f.move(t, d.ID, "Netzanfrage", pipeline.Always(true))
	assert.NotEmpty(t, rep.PublishErrors)

	stored, err := f.store.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages["Netzanfrage"], stored.StageID)
	assert.Equal(t, int64(1000), stored.PaymentStatus.Invoiced)
}

func TestMoveDeal_ConfirmerSeesEachPrompt(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, "Dach Müller", 10000)

	answers := &pipeline.AnswerSet{ByKey: map[string]bool{"approved": true, "invoice": false}}
	rep := f.move(t, d.ID, "Netzbestätigung", answers)
	require.Len(t, rep.Answers, 2)
	assert.False(t, rep.Confirmed)
	assert.Equal(t, int64(0), rep.InvoicedAfter)
}

// --- Deals, payments, summary ---

func TestCreateDeal_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDeal(ctx, NewDeal{Name: "X"})
	assert.Error(t, err, "stage is required")

	_, err = f.svc.CreateDeal(ctx, NewDeal{Name: "X", StageName: "Lead", ContactID: "missing"})
	assert.ErrorIs(t, err, crmdb.ErrNotFound)

	_, err = f.svc.CreateDeal(ctx, NewDeal{Name: "X", StageName: "Nirgendwo"})
	assert.ErrorIs(t, err, pipeline.ErrStageNotFound)
}

func TestGetDeal_Detail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.CreateContact(ctx, pipeline.Contact{Name: "Anna Müller"})
	require.NoError(t, err)
	d, err := f.svc.CreateDeal(ctx, NewDeal{Name: "Dach", Value: 10000, StageName: "Lead", ContactID: c.ID})
	require.NoError(t, err)

	f.move(t, d.ID, "Netzanfrage", pipeline.Always(true))
	_, _, err = f.svc.RecordPayment(ctx, d.ID, 1000, "Anzahlung")
	require.NoError(t, err)
	_, err = f.svc.AddNote(ctx, d.ID, "", "Zählerschrank prüfen")
	require.NoError(t, err)

	detail, err := f.svc.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Netzanfrage", detail.Stage.Name)
	require.NotNil(t, detail.Contact)
	assert.Equal(t, "Anna Müller", detail.Contact.Name)
	assert.Len(t, detail.Invoices, 1)
	assert.Len(t, detail.Payments, 1)
	assert.Len(t, detail.Reminders, 1)
	assert.Len(t, detail.Notes, 1)
	assert.Equal(t, int64(1000), detail.Deal.PaymentStatus.Paid)
}

func TestRecordPayment_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, "Dach", 10000)
	_, _, err := f.svc.RecordPayment(context.Background(), d.ID, -5, "")
	assert.ErrorIs(t, err, pipeline.ErrInvalidAmount)
}

func TestSummarize_Totals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.deal(t, "A", 10000)
	f.deal(t, "B", 5000)

	f.move(t, a.ID, "Warenversand", pipeline.Always(true))
	_, _, err := f.svc.RecordPayment(ctx, a.ID, 4000, "")
	require.NoError(t, err)

	sum, err := f.svc.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Deals)
	assert.Equal(t, int64(15000), sum.Value)
	assert.Equal(t, int64(9000), sum.Invoiced)
	assert.Equal(t, int64(4000), sum.Paid)
	assert.Equal(t, int64(5000), sum.Outstanding)
	require.Len(t, sum.Pipelines, 1)
	assert.Equal(t, "Photovoltaik", sum.Pipelines[0].Category)
	assert.Len(t, sum.Pipelines[0].Stages, 6)
	assert.Equal(t, "EUR", sum.Currency)
}

// --- Seeding ---

func TestSeedFromTemplates_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rep, err := f.svc.SeedFromTemplates(ctx, solarTemplate)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{PipelinesSkipped: 1}, rep)

	def, err := config.DefaultTemplates()
	require.NoError(t, err)
	rep, err = f.svc.SeedFromTemplates(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{PipelinesCreated: 1, PipelinesSkipped: 1}, rep, "only Speichernachrüstung is new")

	// Both pipelines now have a "Lead" stage.
	b, err := f.svc.Board(ctx)
	require.NoError(t, err)
	_, err = b.StageByName("", "Lead")
	assert.ErrorIs(t, err, pipeline.ErrAmbiguousStage)
	_, err = f.svc.CreateDeal(ctx, NewDeal{Name: "X", StageName: "Lead"})
	assert.ErrorIs(t, err, pipeline.ErrAmbiguousStage)
}

func TestCreatePipelineFromTemplate_NewCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, stages, err := f.svc.CreatePipelineFromTemplate(ctx, "Wärmepumpen", config.PipelineTemplate{
		Name: "WP", Stages: config.Stages("Lead", "Montage abgeschlossen"),
	})
	require.NoError(t, err)
	assert.Len(t, p.StageIDs, 2)
	assert.Equal(t, pipeline.MilestoneInstallationComplete, stages[1].Milestone)

	b, err := f.svc.Board(ctx)
	require.NoError(t, err)
	assert.Len(t, b.CategoryIDs, 2)
}

func TestStageRename_KeepsMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "Dach", 10000)

	require.NoError(t, f.svc.RenameStage(ctx, f.stages["Netzanfrage"], "Netzanfrage gestellt"))
	rep := f.move(t, d.ID, "Netzanfrage", pipeline.Always(true))
	assert.Equal(t, "Netzanfrage gestellt", rep.To.Name)
	assert.Equal(t, pipeline.MilestoneGridRequest, rep.To.Milestone)
	assert.Equal(t, int64(1000), rep.InvoicedAfter)

	assert.ErrorIs(t, f.svc.RenameStage(ctx, "missing", "X"), pipeline.ErrStageNotFound)
}

func TestSetStageMilestone_RetagsStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "Dach", 10000)

	require.NoError(t, f.svc.SetStageMilestone(ctx, f.stages["Angebot"], pipeline.MilestoneGridRequest))
	rep := f.move(t, d.ID, "Angebot", pipeline.Always(true))
	assert.True(t, rep.Confirmed)
	assert.Equal(t, int64(1000), rep.InvoicedAfter)

	require.NoError(t, f.svc.SetStageMilestone(ctx, f.stages["Netzanfrage"], pipeline.MilestoneNone))
	rep = f.move(t, d.ID, "Netzanfrage", pipeline.Always(true))
	assert.Empty(t, rep.Answers)
	assert.Equal(t, int64(1000), rep.InvoicedAfter)

	assert.ErrorIs(t, f.svc.SetStageMilestone(ctx, f.stages["Lead"], "bogus"), pipeline.ErrInvalidMilestone)
}

// --- Concurrent moves ---

// gateConfirmer blocks in Confirm until release is closed.
type gateConfirmer struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateConfirmer() *gateConfirmer {
	return &gateConfirmer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateConfirmer) Confirm(ctx context.Context, _ *pipeline.Deal, _ pipeline.Prompt) (bool, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestMoveDeal_ConcurrentMovesFromSameStageBothLand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.deal(t, "A", 10000)
	b := f.deal(t, "B", 10000)

	gate := newGateConfirmer()
	bDone := make(chan error, 1)
	go func() {
		_, err := f.svc.MoveDeal(ctx, MoveRequest{
			DealID: b.ID, StageID: f.stages["Warenversand"], Index: -1, Confirmer: gate,
		})
		bDone <- err
	}()
	<-gate.entered

	// A starts while B is waiting for its answer.
	aDone := make(chan error, 1)
	go func() {
		_, err := f.svc.MoveDeal(ctx, MoveRequest{
			DealID: a.ID, StageID: f.stages["Netzanfrage"], Index: -1, Confirmer: pipeline.Always(true),
		})
		aDone <- err
	}()
	aFinished := false
	select {
	case err := <-aDone:
		require.NoError(t, err)
		aFinished = true
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-bDone)
	if !aFinished {
		require.NoError(t, <-aDone)
	}

	storedA, err := f.store.GetDeal(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages["Netzanfrage"], storedA.StageID, "A must stay where it was moved")
	assert.Equal(t, int64(1000), storedA.PaymentStatus.Invoiced)

	storedB, err := f.store.GetDeal(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages["Warenversand"], storedB.StageID)
	assert.Equal(t, int64(9000), storedB.PaymentStatus.Invoiced)

	board, err := f.svc.Board(ctx)
	require.NoError(t, err)
	require.NoError(t, board.Validate())
	assert.Empty(t, board.Stages[f.stages["Lead"]].DealIDs)
}

// --- Reminders ---

func TestScheduleReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "Dach", 10000)

	r, err := f.svc.ScheduleReminder(ctx, d.ID, "Angebot nachfassen", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, r.DueAt.Sub(r.CreatedAt))

	_, err = f.svc.ScheduleReminder(ctx, "nope", "x", 0)
	assert.ErrorIs(t, err, pipeline.ErrDealNotFound)

	require.NoError(t, f.svc.CancelReminder(ctx, r.ID))
	cancelled, err := f.svc.ListReminders(ctx, pipeline.ReminderCancelled, d.ID)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)

	_, err = f.svc.ListReminders(ctx, "snoozed", "")
	assert.Error(t, err)
}

// --- Money ---

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0,00 EUR"},
		{5, "0,05 EUR"},
		{100000, "1.000,00 EUR"},
		{1234567, "12.345,67 EUR"},
		{-250, "-2,50 EUR"},
		{100000000, "1.000.000,00 EUR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMoney(tt.cents, "EUR"))
	}
	assert.Equal(t, "1,00", FormatMoney(100, ""))
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(1234), ToCents(12.34))
	assert.Equal(t, int64(10000), ToCents(100))
	assert.Equal(t, int64(30), ToCents(0.3))
}
