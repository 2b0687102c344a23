package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/risk"
)

// Lang язык сообщений
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// ParseLang возвращает язык по коду, неизвестный код = английский
func ParseLang(code string) Lang {
	if strings.EqualFold(code, string(LangRU)) {
		return LangRU
	}
	return LangEN
}

// Formatter форматирует алерты и ответы на команды
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang == "" {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// SetLang устанавливает язык
func (f *Formatter) SetLang(lang Lang) {
	f.lang = lang
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

var translations = map[string]map[Lang]string{
	string(domain.EventKillSwitchEngaged):     {LangEN: "Kill switch engaged", LangRU: "Kill switch активирован"},
	string(domain.EventTradingHalted):         {LangEN: "Trading halted", LangRU: "Торговля остановлена"},
	string(domain.EventManualOverrideExpired): {LangEN: "Manual override expired", LangRU: "Ручной override истек"},

	"status":          {LangEN: "Risk status", LangRU: "Статус риска"},
	"trading_allowed": {LangEN: "Trading allowed", LangRU: "Торговля разрешена"},
	"trading_blocked": {LangEN: "Trading blocked", LangRU: "Торговля заблокирована"},
	"disabled":        {LangEN: "Guardrails disabled", LangRU: "Guardrails выключены"},
	"kill_switch":     {LangEN: "Kill switch", LangRU: "Kill switch"},
	"manual_halt":     {LangEN: "Manual halt", LangRU: "Ручная остановка"},
	"override":        {LangEN: "Override", LangRU: "Override"},
	"breaker":         {LangEN: "Circuit breaker", LangRU: "Circuit breaker"},
	"exposure":        {LangEN: "Exposure", LangRU: "Экспозиция"},
	"positions":       {LangEN: "Open positions", LangRU: "Открытые позиции"},
	"realized_pnl":    {LangEN: "Realized PnL", LangRU: "Реализованный PnL"},
	"equity":          {LangEN: "Equity", LangRU: "Капитал"},
	"drawdown":        {LangEN: "Drawdown", LangRU: "Просадка"},
	"on":              {LangEN: "ON", LangRU: "ВКЛ"},
	"off":             {LangEN: "off", LangRU: "выкл"},
	"until":           {LangEN: "until", LangRU: "до"},
	"reason":          {LangEN: "Reason", LangRU: "Причина"},
	"invariant":       {LangEN: "Invariant", LangRU: "Инвариант"},
	"error":           {LangEN: "Error", LangRU: "Ошибка"},
	"done":            {LangEN: "Done", LangRU: "Готово"},
	"nothing_to_do":   {LangEN: "Nothing to reset", LangRU: "Нечего сбрасывать"},
	"access_denied":   {LangEN: "Access denied", LangRU: "Доступ запрещен"},
	"admin_required":  {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
	"unknown_command": {LangEN: "Unknown command", LangRU: "Неизвестная команда"},
	"rate_limited":    {LangEN: "Too many requests, please wait", LangRU: "Слишком много запросов, подождите"},
	"help": {
		LangEN: "/status - risk status\n/halt <reason> - stop trading\n/resume - lift manual halt\n/override <minutes> <reason> - bypass circuit breaker\n/resetkill - reset kill switch\n/resetbreaker - reset circuit breaker",
		LangRU: "/status - статус риска\n/halt <причина> - остановить торговлю\n/resume - снять ручную остановку\n/override <минуты> <причина> - обойти circuit breaker\n/resetkill - сбросить kill switch\n/resetbreaker - сбросить circuit breaker",
	},
}

// T переводит ключ; неизвестный ключ возвращается как есть
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

// FormatEvent форматирует событие риска для алерта
func (f *Formatter) FormatEvent(event domain.RiskEvent) string {
	var sb strings.Builder

	sb.WriteString(eventEmoji(event.Type))
	sb.WriteString(" ")
	sb.WriteString(f.T(string(event.Type)))
	sb.WriteString("\n")

	if event.Invariant != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("invariant"), event.Invariant))
	}
	if event.Reason != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reason"), event.Reason))
	}
	sb.WriteString(event.Timestamp.UTC().Format(time.RFC3339))

	return sb.String()
}

// FormatStatus форматирует снапшот риска
func (f *Formatter) FormatStatus(st risk.Status) string {
	var sb strings.Builder

	sb.WriteString("📊 ")
	sb.WriteString(f.T("status"))
	sb.WriteString("\n\n")

	if !st.Enabled {
		sb.WriteString(f.T("disabled"))
		return sb.String()
	}

	if st.TradingAllowed {
		sb.WriteString("🟢 " + f.T("trading_allowed") + "\n")
	} else {
		sb.WriteString("🔴 " + f.T("trading_blocked") + "\n")
	}

	sb.WriteString(fmt.Sprintf("%s: %s", f.T("kill_switch"), f.onOff(st.KillSwitch.Engaged)))
	if st.KillSwitch.Engaged {
		sb.WriteString(fmt.Sprintf(" (%s)", st.KillSwitch.Invariant))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("%s: %s", f.T("manual_halt"), f.onOff(st.ManualHalt.Active)))
	if st.ManualHalt.Active && st.ManualHalt.Reason != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", st.ManualHalt.Reason))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("%s: %s", f.T("breaker"), f.onOff(st.CircuitBreaker.Active)))
	if st.CircuitBreaker.Active && st.CircuitBreaker.CooldownEndsAt != nil {
		sb.WriteString(fmt.Sprintf(" %s %s", f.T("until"), st.CircuitBreaker.CooldownEndsAt.UTC().Format("15:04:05")))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("%s: %s", f.T("override"), f.onOff(st.ManualOverride.Active)))
	if st.ManualOverride.Active && st.ManualOverride.ExpiresAt != nil {
		sb.WriteString(fmt.Sprintf(" %s %s", f.T("until"), st.ManualOverride.ExpiresAt.UTC().Format("15:04:05")))
	}
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("exposure"), st.ExposureUSD))
	sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("positions"), st.OpenPositions))
	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("realized_pnl"), st.RealizedPnLUSD))
	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("equity"), st.CurrentEquityUSD))
	sb.WriteString(fmt.Sprintf("%s: %.2f%%", f.T("drawdown"), st.DrawdownPct*100))

	return sb.String()
}

// FormatError форматирует ошибку
func (f *Formatter) FormatError(err error) string {
	if v, ok := risk.AsViolation(err); ok {
		return fmt.Sprintf("❌ %s: %s", v.Invariant, v.Message)
	}
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

func (f *Formatter) onOff(active bool) string {
	if active {
		return f.T("on")
	}
	return f.T("off")
}

func eventEmoji(t domain.RiskEventType) string {
	switch t {
	case domain.EventKillSwitchEngaged:
		return "🚨"
	case domain.EventTradingHalted:
		return "⛔"
	case domain.EventManualOverrideExpired:
		return "⏰"
	default:
		return "ℹ️"
	}
}
