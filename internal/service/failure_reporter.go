package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/notify"
)

// Alerter is the notification surface the reporter needs.
type Alerter interface {
	Notify(ctx context.Context, a notify.Alert) error
}

// FailureReporter turns failed cycles into operator alerts.
type FailureReporter struct {
	alerter Alerter
	logger  *slog.Logger
}

// NewFailureReporter creates a FailureReporter.
func NewFailureReporter(alerter Alerter, logger *slog.Logger) *FailureReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureReporter{
		alerter: alerter,
		logger:  logger.With(slog.String("component", "failure_reporter")),
	}
}

// ReportFailure alerts about err. Superseded and cancelled cycles are not
// failures and are never reported.
func (r *FailureReporter) ReportFailure(ctx context.Context, owner common.Address, chainID uint64, err error) {
	if err == nil || errors.Is(err, domain.ErrSuperseded) || errors.Is(err, domain.ErrContextDone) {
		return
	}
	a := alertFor(owner, chainID, err)
	if nerr := r.alerter.Notify(ctx, a); nerr != nil {
		r.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event", string(a.Event)),
			slog.String("error", nerr.Error()),
		)
	}
}

func alertFor(owner common.Address, chainID uint64, err error) notify.Alert {
	a := notify.Alert{
		Event:   notify.EventCycleFailed,
		Key:     fmt.Sprintf("%s/%d", owner.Hex(), chainID),
		Title:   "Position refresh failed",
		Message: fmt.Sprintf("owner %s on chain %d: %v", owner.Hex(), chainID, err),
	}
	if errors.Is(err, domain.ErrInconsistentDeployment) {
		// Keyed per chain: every owner on the chain hits the same deployment.
		a.Event = notify.EventInconsistentDeployment
		a.Key = fmt.Sprintf("chain/%d", chainID)
		a.Title = "Inconsistent position contract deployment"
	}
	return a
}
