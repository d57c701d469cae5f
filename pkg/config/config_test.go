package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uts.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
port: "9090"
brokers:
  - broker_name: simnow
    broker_id: "9999"
    trade_server_addr: ["tcp://127.0.0.1:10101"]
    md_server_addr: ["tcp://127.0.0.1:10111"]
accounts:
  - account_name: sim
    broker_name: simnow
    account_number: "100001"
    password: secret
    enable: true
no_close_today: [SR501]
subscription:
  products: [rb, m]
`

func TestLoadParsesYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].AccountNumber != "100001" {
		t.Fatalf("accounts = %+v", cfg.Accounts)
	}
	if len(cfg.MarketServerAddr) != 1 {
		t.Fatalf("md servers not defaulted from broker: %v", cfg.MarketServerAddr)
	}
	if len(cfg.NoCloseToday) != 1 || cfg.NoCloseToday[0] != "SR501" {
		t.Fatalf("no_close_today = %v", cfg.NoCloseToday)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("SUBSCRIBE_INSTRUMENTS", "rb2410, m2501")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("port = %q, want env override", cfg.Port)
	}
	if !cfg.DryRun {
		t.Fatal("DRY_RUN override ignored")
	}
	if len(cfg.Subscription.Instruments) != 2 || cfg.Subscription.Instruments[1] != "m2501" {
		t.Fatalf("instruments = %v", cfg.Subscription.Instruments)
	}
}

func TestLoadRejectsUnknownBroker(t *testing.T) {
	body := `
accounts:
  - account_name: sim
    broker_name: nobody
    account_number: "100001"
    enable: true
`
	_, err := Load(writeConfig(t, body))
	if !errors.Is(err, uts.ErrMissingBrokerInfo) {
		t.Fatalf("err = %v, want ErrMissingBrokerInfo", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestLoadSkipsDisabledAccountValidation(t *testing.T) {
	body := `
brokers:
  - broker_name: simnow
    broker_id: "9999"
accounts:
  - account_name: idle
    broker_name: nobody
    account_number: "1"
    enable: false
`
	if _, err := Load(writeConfig(t, body)); err != nil {
		t.Fatalf("disabled account should not be validated: %v", err)
	}
}
