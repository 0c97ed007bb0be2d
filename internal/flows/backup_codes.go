package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
	"time"
)

const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeRecord struct {
	Hash      [32]byte
	CreatedAt time.Time
}

type BackupCodeErrors struct {
	EngineNotReady error
	InvalidCode    error
}

type BackupCodeDeps struct {
	Count       int
	Groups      int
	GroupLength int

	Now func() time.Time

	ReplaceBackupCodes func(context.Context, string, []BackupCodeRecord) error
	ConsumeBackupCode  func(context.Context, string, [32]byte, time.Time) (bool, error)
	BackendError       func(context.Context, string, error) error

	RandomIndex func(int) (int, error)

	Errors BackupCodeErrors
}

// RunIssueBackupCodes replaces every code of userID with a fresh batch and
// returns the display form of each code. The plaintext is not kept.
func RunIssueBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.ReplaceBackupCodes == nil || userID == "" {
		return nil, deps.Errors.EngineNotReady
	}
	length := deps.Groups * deps.GroupLength
	if deps.Count <= 0 || length <= 0 {
		return nil, deps.Errors.EngineNotReady
	}

	now := deps.Now()
	records := make([]BackupCodeRecord, 0, deps.Count)
	codes := make([]string, 0, deps.Count)
	for i := 0; i < deps.Count; i++ {
		raw, err := NewBackupCode(length, deps.RandomIndex)
		if err != nil {
			return nil, deps.Errors.EngineNotReady
		}
		records = append(records, BackupCodeRecord{
			Hash:      BackupCodeHash(userID, raw),
			CreatedAt: now,
		})
		codes = append(codes, FormatBackupCode(raw, deps.GroupLength))
	}

	if err := deps.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	return codes, nil
}

// RunConsumeBackupCode marks code used. A malformed, unknown or already used
// code yields Errors.InvalidCode.
func RunConsumeBackupCode(ctx context.Context, userID, code string, deps BackupCodeDeps) error {
	normalizeBackupCodeDeps(&deps)

	if deps.ConsumeBackupCode == nil {
		return deps.Errors.EngineNotReady
	}

	canonical := CanonicalizeBackupCode(code)
	if canonical == "" || len(canonical) != deps.Groups*deps.GroupLength {
		return deps.Errors.InvalidCode
	}

	ok, err := deps.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical), deps.Now())
	if err != nil {
		return deps.BackendError(ctx, userID, err)
	}
	if !ok {
		return deps.Errors.InvalidCode
	}
	return nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits code into dash-separated groups.
func FormatBackupCode(code string, groupLength int) string {
	if groupLength <= 0 || len(code) <= groupLength {
		return code
	}
	var b strings.Builder
	b.Grow(len(code) + len(code)/groupLength)
	for i := 0; i < len(code); i += groupLength {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + groupLength
		if end > len(code) {
			end = len(code)
		}
		b.WriteString(code[i:end])
	}
	return b.String()
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

func BackupCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
	if deps.BackendError == nil {
		deps.BackendError = func(_ context.Context, _ string, err error) error { return err }
	}
}
