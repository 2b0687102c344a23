package risk

import (
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
)

// KillSwitch аварийная остановка торговли.
// Сам никогда не сбрасывается, только через Deactivate (действие оператора).
// Не потокобезопасен: защищается мьютексом Manager.
type KillSwitch struct {
	active      bool
	activatedAt time.Time
	invariant   domain.Invariant
	reason      string
}

// KillSwitchStatus снапшот состояния kill switch
type KillSwitchStatus struct {
	Engaged   bool             `json:"engaged"`
	Invariant domain.Invariant `json:"invariant,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	EngagedAt *time.Time       `json:"engagedAt,omitempty"`
}

// Activate активирует kill switch. Возвращает false если он уже был активен,
// первая причина при этом сохраняется.
func (ks *KillSwitch) Activate(inv domain.Invariant, reason string, at time.Time) bool {
	if ks.active {
		return false
	}

	ks.active = true
	ks.activatedAt = at
	ks.invariant = inv
	ks.reason = reason
	return true
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate() bool {
	wasActive := ks.active
	*ks = KillSwitch{}
	return wasActive
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	return ks.active
}

// GetStatus возвращает статус kill switch
func (ks *KillSwitch) GetStatus() KillSwitchStatus {
	if !ks.active {
		return KillSwitchStatus{}
	}
	at := ks.activatedAt
	return KillSwitchStatus{
		Engaged:   true,
		Invariant: ks.invariant,
		Reason:    ks.reason,
		EngagedAt: &at,
	}
}
