package twofactor

import (
	"context"

	internalflows "github.com/MrEthical07/twofactor/internal/flows"
)

// RegenerateBackupCodes deletes every existing backup code of the user and
// issues a new batch in one atomic replace. The returned codes are shown
// once and never stored in plaintext.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	profile, err := e.getProfile(ctx, userID)
	if err != nil {
		return nil, e.backendError(ctx, userID, err)
	}
	if !profile.Enabled() {
		return nil, ErrNotEnabled
	}

	codes, err := e.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, EventBackupCodesRegenerated, true, userID, nil, nil)
	return codes, nil
}

// ListBackupCodes returns the status of every code in issue order. Codes
// themselves are not recoverable.
func (e *Engine) ListBackupCodes(ctx context.Context, userID string) ([]BackupCodeStatus, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	records, err := e.listBackupCodeRecords(ctx, userID)
	if err != nil {
		return nil, e.backendError(ctx, userID, err)
	}

	out := make([]BackupCodeStatus, len(records))
	for i, r := range records {
		out[i] = BackupCodeStatus{
			Position:  i + 1,
			Used:      r.Used(),
			UsedAt:    r.UsedAt,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func (e *Engine) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	return internalflows.RunIssueBackupCodes(ctx, userID, e.backupCodeFlowDeps())
}

func (e *Engine) backupCodeFlowDeps() internalflows.BackupCodeDeps {
	return internalflows.BackupCodeDeps{
		Count:              e.config.BackupCodes.Count,
		Groups:             e.config.BackupCodes.Groups,
		GroupLength:        e.config.BackupCodes.GroupLength,
		Now:                e.now,
		ReplaceBackupCodes: e.replaceBackupCodes,
		ConsumeBackupCode:  e.consumeBackupCodeHash,
		BackendError:       e.backendError,
		Errors: internalflows.BackupCodeErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidCode:    ErrInvalidCode,
		},
	}
}
