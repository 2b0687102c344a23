package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthManager управляет правами доступа и rate limiting операторов
type AuthManager struct {
	mu              sync.Mutex
	adminIDs        map[int64]bool
	whitelist       map[int64]bool
	enableWhitelist bool
	limiters        map[int64]*userLimiter
	perSecond       rate.Limit
	burst           int
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAuthManager создает менеджер авторизации из списков ID через запятую
func NewAuthManager(adminIDsStr, whitelistStr string) *AuthManager {
	am := &AuthManager{
		adminIDs:  parseIDs(adminIDsStr),
		whitelist: parseIDs(whitelistStr),
		limiters:  make(map[int64]*userLimiter),
		perSecond: 2,
		burst:     2,
	}
	am.enableWhitelist = strings.TrimSpace(whitelistStr) != ""
	return am
}

func parseIDs(s string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin проверяет, является ли пользователь администратором.
// Пустой список админов = все админы.
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	if len(am.adminIDs) == 0 {
		return true
	}
	return am.adminIDs[userID]
}

// IsAllowed проверяет, разрешен ли доступ пользователю
func (am *AuthManager) IsAllowed(userID int64) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	if !am.enableWhitelist {
		return true
	}
	if am.adminIDs[userID] {
		return true
	}
	return am.whitelist[userID]
}

// RequireAdmin возвращает ошибку, если пользователь не администратор
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// Allow проверяет rate limit пользователя
func (am *AuthManager) Allow(userID int64, now time.Time) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	ul, ok := am.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(am.perSecond, am.burst)}
		am.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// CleanupRateLimiters удаляет лимитеры неактивных более idle пользователей
func (am *AuthManager) CleanupRateLimiters(now time.Time, idle time.Duration) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	removed := 0
	for userID, ul := range am.limiters {
		if now.Sub(ul.lastSeen) > idle {
			delete(am.limiters, userID)
			removed++
		}
	}
	return removed
}
