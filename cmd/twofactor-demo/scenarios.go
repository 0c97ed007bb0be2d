package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/twofactor"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	aliceID      = "user-alice"
	bobID        = "user-bob"
	demoPassword = "correct-horse-battery"
)

type offsetClock struct {
	offset atomic.Int64
}

func (c *offsetClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *offsetClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

type demo struct {
	engine *twofactor.Engine
	clock  *offsetClock
	out    io.Writer
}

func (d *demo) logf(format string, args ...any) {
	fmt.Fprintf(d.out, format+"\n", args...)
}

// enroll takes userID through authenticator enrollment and returns the
// shared secret plus the issued backup codes.
func (d *demo) enroll(ctx context.Context, userID string) (string, []string, error) {
	e, err := d.engine.StartEnrollment(ctx, userID, demoPassword)
	if err != nil {
		return "", nil, fmt.Errorf("start enrollment: %w", err)
	}
	e, err = d.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodAuthenticator)
	if err != nil {
		return "", nil, fmt.Errorf("choose method: %w", err)
	}
	secret := e.Setup.Secret
	d.logf("provisioned %s (%d byte QR code)", e.Setup.URI, len(e.Setup.Image))

	code, err := d.code(secret)
	if err != nil {
		return "", nil, err
	}
	e, err = d.engine.ConfirmFirstCode(ctx, e.Ticket, code)
	if err != nil {
		return "", nil, fmt.Errorf("confirm first code: %w", err)
	}
	codes := e.BackupCodes
	if _, err := d.engine.CompleteEnrollment(ctx, e.Ticket); err != nil {
		return "", nil, fmt.Errorf("complete enrollment: %w", err)
	}
	d.logf("%s enrolled, %d backup codes issued", userID, len(codes))
	return secret, codes, nil
}

func (d *demo) code(secret string) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, d.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return code, nil
}

func (d *demo) enrollAndTrust(ctx context.Context) error {
	_, codes, err := d.enroll(ctx, aliceID)
	if err != nil {
		return err
	}

	fp := d.engine.Fingerprint(twofactor.ClientSignals{
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0",
		Platform:     "Linux x86_64",
		Language:     "en-US",
		Timezone:     "Europe/Berlin",
		ScreenWidth:  2560,
		ScreenHeight: 1440,
	})

	ch, err := d.engine.BeginChallenge(ctx, aliceID, fp)
	if err != nil {
		return fmt.Errorf("begin challenge: %w", err)
	}
	if ch.Bypassed {
		return errors.New("unexpected bypass before trust was granted")
	}
	res, err := d.engine.SubmitBackupCode(ctx, ch.Ticket, strings.ToLower(codes[0]), true)
	if err != nil {
		return fmt.Errorf("submit backup code: %w", err)
	}
	d.logf("backup code accepted, trust granted: %v", res.TrustGranted)

	list, err := d.engine.ListBackupCodes(ctx, aliceID)
	if err != nil {
		return err
	}
	remaining := 0
	for _, c := range list {
		if !c.Used {
			remaining++
		}
	}
	d.logf("backup codes remaining: %d", remaining)

	ch, err = d.engine.BeginChallenge(ctx, aliceID, fp)
	if err != nil {
		return fmt.Errorf("second challenge: %w", err)
	}
	if !ch.Bypassed {
		return errors.New("trusted device was challenged")
	}
	d.logf("second login from the same device skipped the challenge")
	return nil
}

func (d *demo) lockoutAndRecover(ctx context.Context) error {
	secret, _, err := d.enroll(ctx, bobID)
	if err != nil {
		return err
	}

	ch, err := d.engine.BeginChallenge(ctx, bobID, "")
	if err != nil {
		return fmt.Errorf("begin challenge: %w", err)
	}

	var locked time.Duration
	for i := 1; i <= 5; i++ {
		res, err := d.engine.SubmitCode(ctx, ch.Ticket, "000000", false)
		if !errors.Is(err, twofactor.ErrInvalidCode) {
			return fmt.Errorf("attempt %d: unexpected result %v", i, err)
		}
		if res.LockedFor > 0 {
			locked = res.LockedFor
			d.logf("attempt %d: wrong code, locked for %s", i, locked.Round(time.Second))
			continue
		}
		d.logf("attempt %d: wrong code, %d left", i, res.AttemptsRemaining)
	}
	if locked == 0 {
		return errors.New("account did not lock")
	}

	code, err := d.code(secret)
	if err != nil {
		return err
	}
	if _, err := d.engine.SubmitCode(ctx, ch.Ticket, code, false); !errors.Is(err, twofactor.ErrAccountLocked) {
		return fmt.Errorf("correct code during cooldown: %v", err)
	}
	d.logf("correct code rejected during cooldown")

	d.clock.Advance(locked + time.Second)

	ch, err = d.engine.BeginChallenge(ctx, bobID, "")
	if err != nil {
		return fmt.Errorf("challenge after cooldown: %w", err)
	}
	if code, err = d.code(secret); err != nil {
		return err
	}
	res, err := d.engine.SubmitCode(ctx, ch.Ticket, code, false)
	if err != nil {
		return fmt.Errorf("submit after cooldown: %w", err)
	}
	status, err := d.engine.CheckLocked(ctx, bobID)
	if err != nil {
		return err
	}
	d.logf("login succeeded: %v, failures now %d", res.Succeeded, status.Failures)
	return nil
}
