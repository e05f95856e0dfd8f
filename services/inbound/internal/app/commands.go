package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storeops/internal/util"
	"storeops/pkg/domain"
	"storeops/pkg/notify"
	"storeops/pkg/sheets"
	"storeops/pkg/store"
	"storeops/pkg/tenant"
)

const (
	CmdOK     = "OK"
	CmdCancel = "CANCEL"
	CmdFix    = "FIX"
	CmdStatus = "STATUS"
	CmdToday  = "TODAY"
	CmdWeek   = "WEEK"
	CmdMonth  = "MONTH"
	CmdHelp   = "HELP"
	CmdSend   = "SEND"
	CmdStore  = "STORE"
)

const (
	replyNoPending        = "No pending action found."
	replyNoPendingStatus  = "No pending actions."
	replyConfirmed        = "✅ Confirmed and saved to Google Sheets!"
	replyConfirmFailed    = "Confirmed but failed to save. Please contact support."
	replyCancelled        = "❌ Cancelled."
	replyFixUsage         = "Usage: FIX <field> <value>\nExample: FIX amount 1260"
	replySendUsage        = "Usage: SEND <vendor>\nExample: SEND HLA"
	replyNoPendingOrder   = "No pending order found. Create an order first."
	replyStoreUsage       = "Usage: STORE S001\nExample: STORE S001"
	replyStoreNotLinked   = "Store not linked. Reply STORE S001 to link."
	replyMonthUsage       = "Invalid format. Use: MONTH YYYY-MM\nExample: MONTH 2026-01"
	replyUnknownCommand   = "Unknown command. Reply HELP for available commands."
	replyVendorNotInOrder = "Vendor %s is not part of the pending order."
)

// maxArgs is the argument limit per command; -1 means unbounded.
var maxArgs = map[string]int{
	CmdOK:     0,
	CmdCancel: 0,
	CmdStatus: 0,
	CmdToday:  0,
	CmdWeek:   0,
	CmdHelp:   0,
	CmdMonth:  1,
	CmdStore:  1,
	CmdFix:    -1,
	CmdSend:   -1,
}

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand recognizes a bare command: a known keyword as the first token,
// case-insensitively, followed by no more arguments than the keyword takes.
func ParseCommand(text string) (Command, bool) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return Command{}, false
	}
	name := strings.ToUpper(tokens[0])
	limit, ok := maxArgs[name]
	if !ok {
		return Command{}, false
	}
	args := tokens[1:]
	if limit >= 0 && len(args) > limit {
		return Command{}, false
	}
	return Command{Name: name, Args: args}, true
}

// HandleCommand executes cmd for senderID and returns the reply text.
// User mistakes come back as replies; only infrastructure failures are errors.
func (a *App) HandleCommand(ctx context.Context, senderID string, cmd Command) (string, error) {
	switch cmd.Name {
	case CmdOK:
		return a.confirm(ctx, senderID)
	case CmdCancel:
		return a.cancel(ctx, senderID)
	case CmdFix:
		return a.fix(ctx, senderID, cmd.Args)
	case CmdStatus:
		return a.status(ctx, senderID)
	case CmdToday:
		return a.periodSummary(ctx, senderID, periodToday, time.Time{})
	case CmdWeek:
		return a.periodSummary(ctx, senderID, periodWeek, time.Time{})
	case CmdMonth:
		var month time.Time
		if len(cmd.Args) > 0 {
			parsed, err := time.ParseInLocation("2006-01", cmd.Args[0], a.location)
			if err != nil {
				return replyMonthUsage, nil
			}
			month = parsed
		}
		return a.periodSummary(ctx, senderID, periodMonth, month)
	case CmdHelp:
		return notify.HelpText, nil
	case CmdSend:
		return a.sendOrder(ctx, senderID, cmd.Args)
	case CmdStore:
		return a.linkStore(ctx, senderID, cmd.Args)
	default:
		return replyUnknownCommand, nil
	}
}

func (a *App) latest(ctx context.Context, senderID string) (domain.PendingAction, bool, error) {
	action, found, err := a.store.LatestPendingAction(ctx, senderID, a.now())
	if err != nil {
		return domain.PendingAction{}, false, fmt.Errorf("latest pending action: %w", err)
	}
	return action, found, nil
}

func (a *App) confirm(ctx context.Context, senderID string) (string, error) {
	action, found, err := a.latest(ctx, senderID)
	if err != nil || !found {
		return replyNoPending, err
	}
	confirmed, err := a.store.TransitionPendingAction(ctx, action.ID, domain.PendingStatusConfirmed)
	if errors.Is(err, store.ErrInvalidTransition) {
		return replyNoPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("confirm %s: %w", action.ID, err)
	}
	logger := util.LoggerFromContext(ctx).With("action_id", confirmed.ID, "store_id", confirmed.StoreID)
	st, ok, err := a.store.GetStore(ctx, confirmed.StoreID)
	if err != nil || !ok {
		logger.Error("confirmed action has no sheet", "found", ok, "err", err)
		return replyConfirmFailed, nil
	}
	tab, err := a.sink.Write(ctx, sheets.Record{
		StoreID:     confirmed.StoreID,
		SheetID:     st.SheetID,
		Category:    confirmed.Category,
		Fields:      confirmed.Fields,
		MessageID:   confirmed.SourceMessageID,
		Confidence:  confirmed.Confidence,
		MediaURL:    confirmed.MediaURL,
		ConfirmedAt: a.now(),
	})
	if err != nil {
		logger.Error("sink write failed", "tab", tab, "err", err)
		return replyConfirmFailed, nil
	}
	logger.Info("action confirmed", "tab", tab)
	return replyConfirmed, nil
}

func (a *App) cancel(ctx context.Context, senderID string) (string, error) {
	action, found, err := a.latest(ctx, senderID)
	if err != nil || !found {
		return replyNoPending, err
	}
	if _, err := a.store.TransitionPendingAction(ctx, action.ID, domain.PendingStatusCancelled); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return replyNoPending, nil
		}
		return "", fmt.Errorf("cancel %s: %w", action.ID, err)
	}
	return replyCancelled, nil
}

func (a *App) fix(ctx context.Context, senderID string, args []string) (string, error) {
	if len(args) < 2 {
		return replyFixUsage, nil
	}
	action, found, err := a.latest(ctx, senderID)
	if err != nil || !found {
		return replyNoPending, err
	}
	field := strings.ToLower(args[0])
	value := strings.Join(args[1:], " ")
	fields := domain.NormalizeFields(action.Category, domain.CloneFields(action.Fields))
	if fields == nil {
		fields = domain.EmptyFields(action.Category)
	}
	fields = withOrderBatch(fields)
	if err := fields.Set(field, value); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownField):
			return fmt.Sprintf("Unknown field %q. Fields: %s", field, strings.Join(fields.Names(), ", ")), nil
		case errors.Is(err, domain.ErrAmbiguousField):
			return fmt.Sprintf("Cannot FIX %q on an order with several vendors or items.", field), nil
		default:
			return "", fmt.Errorf("fix %s: %w", field, err)
		}
	}
	updated, err := a.store.UpdatePendingFields(ctx, action.ID, fields)
	if errors.Is(err, store.ErrInvalidTransition) {
		return replyNoPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("update fields %s: %w", action.ID, err)
	}
	a.reply(ctx, senderID, notify.FixUpdatedMessage(updated.Fields))
	return fmt.Sprintf("Field %q updated.", field), nil
}

func (a *App) status(ctx context.Context, senderID string) (string, error) {
	action, found, err := a.latest(ctx, senderID)
	if err != nil {
		return "", err
	}
	if !found {
		return replyNoPendingStatus, nil
	}
	return notify.StatusMessage(action), nil
}

func (a *App) sendOrder(ctx context.Context, senderID string, args []string) (string, error) {
	if len(args) == 0 {
		return replySendUsage, nil
	}
	vendor := strings.ToUpper(args[0])
	action, found, err := a.latest(ctx, senderID)
	if err != nil {
		return "", err
	}
	if !found || action.Category != domain.CategoryOrderRequest {
		return replyNoPendingOrder, nil
	}
	order, ok := domain.NormalizeFields(action.Category, action.Fields).(*domain.OrderRequestFields)
	if !ok {
		order = &domain.OrderRequestFields{}
	}
	group, ok := order.Group(vendor)
	if !ok {
		return fmt.Sprintf(replyVendorNotInOrder, vendor), nil
	}
	st, ok, err := a.store.GetStore(ctx, action.StoreID)
	if err != nil {
		return "", fmt.Errorf("lookup store %s: %w", action.StoreID, err)
	}
	if !ok {
		return fmt.Sprintf("Store %s not found. Contact admin.", action.StoreID), nil
	}
	contact, ok := st.VendorContact(vendor)
	if !ok {
		return fmt.Sprintf("No contact on file for %s. Contact admin.", vendor), nil
	}
	name := st.Name
	if name == "" {
		name = st.ID
	}
	if err := a.notifier.Send(ctx, contact, notify.VendorOrderMessage(name, order.OrderBatchID, group)); err != nil {
		util.LoggerFromContext(ctx).Error("vendor order not delivered", "vendor", vendor, "err", err)
		return fmt.Sprintf("Failed to send order to %s. Please try again.", vendor), nil
	}
	return fmt.Sprintf("📤 Order sent to %s!", vendor), nil
}

func (a *App) linkStore(ctx context.Context, senderID string, args []string) (string, error) {
	if len(args) == 0 {
		return replyStoreUsage, nil
	}
	code := strings.ToUpper(args[0])
	st, err := a.resolver.Link(ctx, senderID, code)
	if errors.Is(err, tenant.ErrStoreNotFound) {
		return fmt.Sprintf("Store %s not found. Contact admin.", code), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Linked to store %s (%s)", st.ID, st.Name), nil
}
