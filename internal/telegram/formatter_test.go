package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/risk"
)

func TestFormatter_T(t *testing.T) {
	tests := []struct {
		name string
		lang Lang
		key  string
		want string
	}{
		{"english status", LangEN, "status", "Risk status"},
		{"russian status", LangRU, "status", "Статус риска"},
		{"english event", LangEN, string(domain.EventTradingHalted), "Trading halted"},
		{"russian event", LangRU, string(domain.EventTradingHalted), "Торговля остановлена"},
		{"unknown key", LangEN, "unknown_key", "unknown_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFormatter(tt.lang)
			if got := f.T(tt.key); got != tt.want {
				t.Errorf("T() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatter_SetGetLang(t *testing.T) {
	f := NewFormatter("")
	if f.GetLang() != LangEN {
		t.Error("Default language should be English")
	}

	f.SetLang(LangRU)
	if f.GetLang() != LangRU {
		t.Error("Language should be Russian after SetLang")
	}
}

func TestParseLang(t *testing.T) {
	tests := []struct {
		code string
		want Lang
	}{
		{"ru", LangRU},
		{"RU", LangRU},
		{"en", LangEN},
		{"de", LangEN},
		{"", LangEN},
	}
	for _, tt := range tests {
		if got := ParseLang(tt.code); got != tt.want {
			t.Errorf("ParseLang(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestFormatter_FormatEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	event := domain.RiskEvent{
		ID:        "01HQ",
		Type:      domain.EventKillSwitchEngaged,
		Invariant: domain.InvariantMaxDrawdown,
		Reason:    "drawdown 25.00% reached limit 20.00%",
		Timestamp: at,
	}

	got := NewFormatter(LangEN).FormatEvent(event)

	for _, want := range []string{"🚨", "Kill switch engaged", string(domain.InvariantMaxDrawdown), "drawdown 25.00%", "2024-03-01T12:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatEvent() = %q, missing %q", got, want)
		}
	}

	expired := NewFormatter(LangRU).FormatEvent(domain.RiskEvent{Type: domain.EventManualOverrideExpired, Timestamp: at})
	if !strings.Contains(expired, "Ручной override истек") {
		t.Errorf("FormatEvent() = %q, want russian title", expired)
	}
	if strings.Contains(expired, "Причина") {
		t.Error("FormatEvent() should skip empty reason")
	}
}

func TestFormatter_FormatStatus(t *testing.T) {
	f := NewFormatter(LangEN)

	disabled := f.FormatStatus(risk.Status{Enabled: false, TradingAllowed: true})
	if !strings.Contains(disabled, "Guardrails disabled") {
		t.Errorf("FormatStatus() = %q, want disabled notice", disabled)
	}

	ends := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	st := risk.Status{
		Enabled:        true,
		TradingAllowed: false,
		KillSwitch:     risk.KillSwitchStatus{Engaged: true, Invariant: domain.InvariantStopLoss},
		CircuitBreaker: risk.BreakerStatus{Active: true, CooldownEndsAt: &ends},
		ExposureUSD:    1500,
		OpenPositions:  2,
		DrawdownPct:    0.125,
	}
	got := f.FormatStatus(st)
	for _, want := range []string{"Trading blocked", string(domain.InvariantStopLoss), "until 12:30:00", "$1500.00", "Open positions: 2", "12.50%"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStatus() = %q, missing %q", got, want)
		}
	}
}

func TestFormatter_FormatError(t *testing.T) {
	f := NewFormatter(LangEN)

	if got := f.FormatError(errors.New("boom")); got != "❌ Error: boom" {
		t.Errorf("FormatError() = %q", got)
	}

	v := &risk.Violation{Invariant: domain.InvariantManualHalt, Message: "manual halt active"}
	if got := f.FormatError(v); !strings.Contains(got, string(domain.InvariantManualHalt)) {
		t.Errorf("FormatError() = %q, want invariant", got)
	}
}
