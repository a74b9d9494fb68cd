package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/events"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DataDir:  t.TempDir(),
		Currency: "EUR",
		Log:      config.LogConfig{Level: "info"},
		Reminders: config.RemindersConfig{
			Delay:        time.Hour,
			PollInterval: time.Minute,
		},
		NATS: config.NATSConfig{SubjectPrefix: "crm"},
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_WiresLogPublisherWithoutBroker(t *testing.T) {
	app, cleanup, err := Open(testConfig(t), quiet())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cleanup()

	if _, ok := app.Publisher.(events.LogPublisher); !ok {
		t.Errorf("publisher = %T, want events.LogPublisher", app.Publisher)
	}
	if app.Service == nil || app.Dispatcher == nil || app.Metrics == nil {
		t.Fatal("app is missing dependencies")
	}
	if app.Service.Currency() != "EUR" {
		t.Errorf("currency = %q", app.Service.Currency())
	}
}

func TestOpen_UnreachableBrokerFallsBack(t *testing.T) {
	orig := connectNATS
	defer func() { connectNATS = orig }()
	called := false
	connectNATS = func(url, prefix string, logger *slog.Logger) (*events.NATSPublisher, error) {
		called = true
		if url != "nats://broker:4222" || prefix != "crm" {
			t.Errorf("connect(%q, %q)", url, prefix)
		}
		return nil, errors.New("connection refused")
	}

	cfg := testConfig(t)
	cfg.NATS.URL = "nats://broker:4222"
	app, cleanup, err := Open(cfg, quiet())
	if err != nil {
		t.Fatalf("Open should not fail on an unreachable broker: %v", err)
	}
	defer cleanup()

	if !called {
		t.Error("broker was not dialled")
	}
	if _, ok := app.Publisher.(events.LogPublisher); !ok {
		t.Errorf("publisher = %T, want events.LogPublisher", app.Publisher)
	}
}

func TestOpen_BadDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = "/dev/null/solarcrm"
	_, cleanup, err := Open(cfg, quiet())
	cleanup()
	if err == nil {
		t.Fatal("expected error for an unusable data dir")
	}
}

func TestNew_RegistersTools(t *testing.T) {
	app, cleanup, err := Open(testConfig(t), quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	s := New(app)

	resp := s.HandleMessage(context.Background(), json.RawMessage(
		`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	for _, name := range []string{
		"crm_board", "crm_create_pipeline", "crm_create_deal", "crm_get_deal", "crm_move_deal",
		"crm_record_payment", "crm_list_invoices", "crm_list_reminders", "crm_schedule_reminder",
		"crm_create_contact", "crm_list_contacts", "crm_add_note", "crm_search_notes", "crm_update_stage",
	} {
		if !strings.Contains(body, `"`+name+`"`) {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestServerInstructions_MentionMilestones(t *testing.T) {
	inst := serverInstructions()
	for _, want := range []string{"Netzanfrage", "Netzbestätigung", "Warenversand", "Montage abgeschlossen", "crm_move_deal"} {
		if !strings.Contains(inst, want) {
			t.Errorf("instructions should mention %q", want)
		}
	}
}
