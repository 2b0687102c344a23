package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/risk"
)

// RiskControl операторские действия над risk manager
type RiskControl interface {
	Status() risk.Status
	SetManualHalt(active bool, reason string)
	SetManualOverride(req risk.OverrideRequest) error
	ResetKillSwitch() bool
	ResetCircuitBreaker() bool
}

// CommandArgs разобранная команда
type CommandArgs struct {
	Command string
	Args    []string
	Raw     string
}

// CommandHandler представляет обработчик команды
type CommandHandler func(ctx context.Context, args *CommandArgs) (string, error)

// Router маршрутизирует команды к обработчикам
type Router struct {
	handlers      map[string]CommandHandler
	authManager   *AuthManager
	formatter     *Formatter
	adminCommands map[string]bool
	now           func() time.Time
}

// NewRouter создает роутер со стандартным набором команд
func NewRouter(control RiskControl, authManager *AuthManager, formatter *Formatter) *Router {
	r := &Router{
		handlers:      make(map[string]CommandHandler),
		authManager:   authManager,
		formatter:     formatter,
		adminCommands: make(map[string]bool),
		now:           time.Now,
	}

	r.RegisterHandler("start", r.help)
	r.RegisterHandler("help", r.help)
	r.RegisterHandler("status", func(ctx context.Context, _ *CommandArgs) (string, error) {
		return formatter.FormatStatus(control.Status()), nil
	})

	r.RegisterAdminHandler("halt", func(ctx context.Context, args *CommandArgs) (string, error) {
		reason := strings.Join(args.Args, " ")
		if reason == "" {
			reason = "telegram operator"
		}
		control.SetManualHalt(true, reason)
		return "⛔ " + formatter.T(string(domain.EventTradingHalted)), nil
	})
	r.RegisterAdminHandler("resume", func(ctx context.Context, _ *CommandArgs) (string, error) {
		control.SetManualHalt(false, "")
		return "✅ " + formatter.T("done"), nil
	})
	r.RegisterAdminHandler("override", func(ctx context.Context, args *CommandArgs) (string, error) {
		if len(args.Args) == 0 {
			return "", fmt.Errorf("usage: /override <minutes|off> [reason]")
		}
		if strings.EqualFold(args.Args[0], "off") {
			return "✅ " + formatter.T("done"), control.SetManualOverride(risk.OverrideRequest{Active: false})
		}
		minutes, err := strconv.ParseFloat(args.Args[0], 64)
		if err != nil {
			return "", fmt.Errorf("invalid minutes %q", args.Args[0])
		}
		err = control.SetManualOverride(risk.OverrideRequest{
			Active:   true,
			Duration: time.Duration(minutes * float64(time.Minute)),
			Reason:   strings.Join(args.Args[1:], " "),
		})
		if err != nil {
			return "", err
		}
		return "✅ " + formatter.T("done"), nil
	})
	r.RegisterAdminHandler("resetkill", func(ctx context.Context, _ *CommandArgs) (string, error) {
		if !control.ResetKillSwitch() {
			return formatter.T("nothing_to_do"), nil
		}
		return "✅ " + formatter.T("done"), nil
	})
	r.RegisterAdminHandler("resetbreaker", func(ctx context.Context, _ *CommandArgs) (string, error) {
		if !control.ResetCircuitBreaker() {
			return formatter.T("nothing_to_do"), nil
		}
		return "✅ " + formatter.T("done"), nil
	})

	return r
}

// RegisterHandler регистрирует обработчик команды
func (r *Router) RegisterHandler(command string, handler CommandHandler) {
	r.handlers[command] = handler
}

// RegisterAdminHandler регистрирует обработчик с требованием админских прав
func (r *Router) RegisterAdminHandler(command string, handler CommandHandler) {
	r.adminCommands[command] = true
	r.handlers[command] = handler
}

// IsAdminCommand проверяет, является ли команда админской
func (r *Router) IsAdminCommand(command string) bool {
	return r.adminCommands[command]
}

// HandleCommand обрабатывает команду и возвращает текст ответа.
// Ошибка возвращается только если упал сам обработчик.
func (r *Router) HandleCommand(ctx context.Context, userID int64, text string) (string, error) {
	if !r.authManager.Allow(userID, r.now()) {
		return r.formatter.T("rate_limited"), nil
	}
	if !r.authManager.IsAllowed(userID) {
		return r.formatter.T("access_denied"), nil
	}

	args, err := ParseCommand(text)
	if err != nil {
		return r.formatter.FormatError(err), nil
	}

	if r.adminCommands[args.Command] {
		if err := r.authManager.RequireAdmin(userID); err != nil {
			return r.formatter.T("admin_required"), nil
		}
	}

	handler, ok := r.handlers[args.Command]
	if !ok {
		return r.formatter.T("unknown_command"), nil
	}

	response, err := handler(ctx, args)
	if err != nil {
		return r.formatter.FormatError(err), err
	}
	return response, nil
}

func (r *Router) help(ctx context.Context, _ *CommandArgs) (string, error) {
	return r.formatter.T("help"), nil
}

// ParseCommand разбирает "/cmd@bot arg1 arg2"
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command: %q", text)
	}

	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}

	return &CommandArgs{
		Command: strings.ToLower(cmd),
		Args:    fields[1:],
		Raw:     text,
	}, nil
}
