package twofactor

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/twofactor/internal/flows"
)

func (e *Engine) getProfile(ctx context.Context, userID string) (Profile, error) {
	if e == nil || e.store == nil {
		return Profile{}, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.GetProfile(ctx, userID)
}

func (e *Engine) getFlowProfile(ctx context.Context, userID string) (internalflows.Profile, error) {
	p, err := e.getProfile(ctx, userID)
	if err != nil {
		return internalflows.Profile{}, err
	}
	return toFlowProfile(p), nil
}

func (e *Engine) enableFlowProfile(ctx context.Context, p internalflows.Profile) (bool, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.EnableProfile(ctx, fromFlowProfile(p))
}

func (e *Engine) deleteProfile(ctx context.Context, userID string) error {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.DeleteProfile(ctx, userID)
}

func (e *Engine) replaceBackupCodes(ctx context.Context, userID string, records []internalflows.BackupCodeRecord) error {
	out := make([]BackupCodeRecord, len(records))
	for i, r := range records {
		out[i] = BackupCodeRecord{Hash: r.Hash, CreatedAt: r.CreatedAt}
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.ReplaceBackupCodes(ctx, userID, out)
}

func (e *Engine) consumeBackupCodeHash(ctx context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.ConsumeBackupCode(ctx, userID, hash, usedAt)
}

func (e *Engine) listBackupCodeRecords(ctx context.Context, userID string) ([]BackupCodeRecord, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.ListBackupCodes(ctx, userID)
}

func toFlowProfile(p Profile) internalflows.Profile {
	out := internalflows.Profile{
		UserID:    p.UserID,
		EnabledAt: p.EnabledAt,
	}
	switch f := p.Factor.(type) {
	case AuthenticatorFactor:
		out.Method = internalflows.MethodAuthenticator
		out.Secret = f.Secret
	case *AuthenticatorFactor:
		if f != nil {
			out.Method = internalflows.MethodAuthenticator
			out.Secret = f.Secret
		}
	case EmailFactor:
		out.Method = internalflows.MethodEmail
		out.Email = f.Address
	case *EmailFactor:
		if f != nil {
			out.Method = internalflows.MethodEmail
			out.Email = f.Address
		}
	}
	return out
}

func fromFlowProfile(p internalflows.Profile) Profile {
	out := Profile{
		UserID:    p.UserID,
		EnabledAt: p.EnabledAt,
	}
	switch p.Method {
	case internalflows.MethodAuthenticator:
		out.Factor = AuthenticatorFactor{Secret: append([]byte(nil), p.Secret...)}
	case internalflows.MethodEmail:
		out.Factor = EmailFactor{Address: p.Email}
	}
	return out
}
