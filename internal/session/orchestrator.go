// Package session contains the login/provisioning state machine. One Run is
// one session: admission, throttling, the interactive QR login subprocess,
// cooldown policy, teardown-before-create, and the conditional record
// commit. Every session produces exactly one summary reply to the
// requester.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/orzlee/jdbot/internal/instance"
	"github.com/orzlee/jdbot/internal/procstream"
	"github.com/orzlee/jdbot/internal/qr"
	"github.com/orzlee/jdbot/internal/store"
	"github.com/orzlee/jdbot/internal/transport"
)

type RecordStore interface {
	FindByIdentity(ctx context.Context, cookieUserID string) (*store.Account, error)
	CountAccounts(ctx context.Context) (int64, error)
	ReplaceByIdentity(ctx context.Context, a *store.Account, prevUpdatedAt *time.Time) error
}

type Limiter interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// LineStream is what the orchestrator consumes from the login subprocess.
// *procstream.Stream implements it; tests substitute scripted streams.
type LineStream interface {
	Lines() <-chan string
	Close() error
}

type SpawnFunc func(ctx context.Context, command string, extraEnv []string) (LineStream, error)

// Trigger is one authorized login request from the messaging front-end.
type Trigger struct {
	RequesterID   string
	RequesterName string
}

// Outcome is the terminal result of a session. Err is nil only on a
// committed login; otherwise it wraps one of this package's sentinel
// errors.
type Outcome struct {
	Err           error
	Identity      string
	Cookie        string
	ContainerID   string
	RemainingDays int
}

type Options struct {
	Store   RecordStore
	Limiter Limiter
	Manager instance.Manager
	Replier transport.Replier
	Encoder qr.Encoder

	// Spawn defaults to procstream.Spawn.
	Spawn SpawnFunc

	LoginCommand string
	LoginTimeout time.Duration

	MaxInstances int
	AllowList    []string
	MinLoginDays int

	// Now defaults to time.Now.
	Now func() time.Time

	Log *slog.Logger
}

type Orchestrator struct {
	store   RecordStore
	limiter Limiter
	manager instance.Manager
	replier transport.Replier
	encoder qr.Encoder
	gate    *Gate
	spawn   SpawnFunc

	loginCommand string
	loginTimeout time.Duration
	minLoginDays int

	locks *keyLock
	now   func() time.Time
	log   *slog.Logger
}

func New(opts Options) *Orchestrator {
	spawn := opts.Spawn
	if spawn == nil {
		spawn = func(ctx context.Context, command string, extraEnv []string) (LineStream, error) {
			return procstream.Spawn(ctx, command, extraEnv)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	loginTimeout := opts.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = 3 * time.Minute
	}

	return &Orchestrator{
		store:        opts.Store,
		limiter:      opts.Limiter,
		manager:      opts.Manager,
		replier:      opts.Replier,
		encoder:      opts.Encoder,
		gate:         NewGate(opts.Store, opts.MaxInstances, opts.AllowList),
		spawn:        spawn,
		loginCommand: opts.LoginCommand,
		loginTimeout: loginTimeout,
		minLoginDays: opts.MinLoginDays,
		locks:        newKeyLock(),
		now:          now,
		log:          log,
	}
}

// Run executes one full session and delivers the summary reply. Safe to
// call concurrently for different requesters; same-requester concurrency is
// rejected by the rate limiter.
func (o *Orchestrator) Run(ctx context.Context, trig Trigger) Outcome {
	log := o.log.With("requester", trig.RequesterID)

	out, qrRef := o.run(ctx, log, trig)

	if out.Err == nil {
		if err := o.limiter.Release(ctx, trig.RequesterID); err != nil {
			log.Warn("rate limit release failed", "error", err)
		}
		if !qrRef.IsZero() {
			if err := o.replier.Retract(ctx, qrRef); err != nil {
				log.Warn("qr message retraction failed", "error", err)
			}
		}
	} else if errors.Is(out.Err, context.Canceled) {
		// operator abort: the trigger should not keep paying the window
		if err := o.limiter.Release(context.WithoutCancel(ctx), trig.RequesterID); err != nil {
			log.Warn("rate limit release failed", "error", err)
		}
	}

	o.reply(context.WithoutCancel(ctx), trig, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, trig Trigger) (Outcome, transport.MessageRef) {
	var qrRef transport.MessageRef

	// Admitting
	if err := o.gate.Check(ctx, trig.RequesterID); err != nil {
		log.Info("session rejected at admission", "error", err)
		return Outcome{Err: err}, qrRef
	}

	// RateLimited | Spawning. The entry is only released on success or
	// cancellation; failed sessions pay the full window.
	ok, err := o.limiter.TryAcquire(ctx, trig.RequesterID)
	if err != nil {
		return Outcome{Err: fmt.Errorf("rate limiter: %w", err)}, qrRef
	}
	if !ok {
		log.Info("session rejected by rate limiter")
		return Outcome{Err: ErrTooFrequent}, qrRef
	}

	sctx, cancel := context.WithTimeout(ctx, o.loginTimeout)
	defer cancel()

	stream, err := o.spawn(sctx, o.loginCommand, nil)
	if err != nil {
		log.Error("login process spawn failed", "error", err)
		return Outcome{Err: fmt.Errorf("%w: %w", ErrSpawnFailed, err)}, qrRef
	}
	defer stream.Close()

	// AwaitingEvent
	var cookie string
events:
	for line := range stream.Lines() {
		ev := Classify(line)
		switch ev.Kind {
		case EventQRPayload:
			if !qrRef.IsZero() {
				// canonical flow shows at most one QR per session
				log.Warn("duplicate qr payload from login process, ignoring")
				continue
			}
			png, err := o.encoder.Encode(ev.Payload)
			if err != nil {
				return Outcome{Err: fmt.Errorf("encode qr: %w", err)}, qrRef
			}
			ref, err := o.replier.SendImage(ctx, trig.RequesterID, png,
				"Scan with the JD app to log in.\nThe QR code expires in 3 minutes.")
			if err != nil {
				return Outcome{Err: fmt.Errorf("send qr: %w", err)}, qrRef
			}
			qrRef = ref
			log.Info("qr code shown")

		case EventExpiry:
			log.Info("qr code expired before scan")
			return Outcome{Err: ErrQRExpired}, qrRef

		case EventSuccessToken:
			cookie = ev.Payload
			break events
		}
	}

	if cookie == "" {
		if ctx.Err() != nil {
			log.Info("session cancelled before login completed")
			return Outcome{Err: ctx.Err()}, qrRef
		}
		log.Info("login process ended without a success token")
		return Outcome{Err: ErrLoginTimeout}, qrRef
	}

	// tear the adapter down now; provisioning must not run with the login
	// process still attached
	_ = stream.Close()

	// ResolvingIdentity
	identity, err := ExtractIdentity(cookie)
	if err != nil {
		log.Error("success token unparsable", "cred", credFingerprint(cookie))
		return Outcome{Err: err}, qrRef
	}
	log = log.With("identity", identity)
	log.Info("login succeeded", "cred", credFingerprint(cookie))

	unlock := o.locks.Lock(identity)
	defer unlock()

	var prevUpdatedAt *time.Time
	var priorRef string
	prior, err := o.store.FindByIdentity(ctx, identity)
	switch {
	case err == nil:
		age := o.now().Sub(prior.UpdatedAt)
		minAge := time.Duration(o.minLoginDays) * 24 * time.Hour
		if age < minAge {
			remaining := o.minLoginDays - int(age.Hours()/24)
			log.Info("re-login blocked by cooldown", "remaining_days", remaining)
			return Outcome{
				Err:           ErrCooldownActive,
				Identity:      identity,
				RemainingDays: remaining,
			}, qrRef
		}
		prevUpdatedAt = &prior.UpdatedAt
		priorRef = prior.ContainerID
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first login for this identity
	default:
		return Outcome{Err: fmt.Errorf("find account: %w", err)}, qrRef
	}

	// Provisioning: the stale instance goes away before its replacement is
	// created, never the other way around
	if priorRef != "" {
		err := o.manager.Destroy(ctx, priorRef)
		switch {
		case err == nil:
		case errors.Is(err, instance.ErrNotFound):
			log.Warn("prior instance already gone", "ref", priorRef)
		default:
			if errors.Is(err, instance.ErrAmbiguous) {
				log.Error("prior instance teardown outcome unknown, aborting", "ref", priorRef)
			} else {
				log.Error("prior instance teardown failed", "ref", priorRef, "error", err)
			}
			return Outcome{Err: fmt.Errorf("%w: %w", ErrTeardownFailed, err), Identity: identity}, qrRef
		}
	}

	newRef, err := o.manager.Create(ctx, cookie, trig.RequesterID, identity)
	if err != nil {
		if errors.Is(err, instance.ErrAmbiguous) {
			// possible orphan container; operators need to reconcile
			log.Error("instance create outcome unknown, not committing", "error", err)
		} else {
			log.Error("instance create failed", "error", err)
		}
		return Outcome{Err: fmt.Errorf("%w: %w", ErrProvisionFailed, err), Identity: identity, Cookie: cookie}, qrRef
	}

	// Committing
	acct := &store.Account{
		TGUserID:     trig.RequesterID,
		TGUsername:   trig.RequesterName,
		Cookie:       cookie,
		CookieUserID: identity,
		ContainerID:  newRef,
	}
	if err := o.store.ReplaceByIdentity(ctx, acct, prevUpdatedAt); err != nil {
		// the container exists but the record does not say so
		log.Error("record commit failed after instance creation",
			"ref", newRef, "error", err)
		return Outcome{Err: fmt.Errorf("%w: %w", ErrCommitFailed, err), Identity: identity, ContainerID: newRef}, qrRef
	}

	log.Info("session committed", "ref", newRef)
	return Outcome{Identity: identity, Cookie: cookie, ContainerID: newRef}, qrRef
}

func (o *Orchestrator) reply(ctx context.Context, trig Trigger, out Outcome) {
	var text string
	switch {
	case out.Err == nil:
		text = fmt.Sprintf("Login succeeded.\nCookie:\n%s\n\nContainer ID:\n%s", out.Cookie, out.ContainerID)
	case errors.Is(out.Err, ErrCapacityExceeded):
		text = "The user limit has been reached, no more logins can be accepted."
	case errors.Is(out.Err, ErrUnauthorized):
		text = "You are not allowed to use this command."
	case errors.Is(out.Err, ErrTooFrequent):
		text = "Please do not submit login requests this often. Wait for the previous attempt to finish or for its window to pass."
	case errors.Is(out.Err, ErrQRExpired):
		text = "The QR code expired. Send the command again to get a new one."
	case errors.Is(out.Err, ErrLoginTimeout):
		text = "The login flow ended without completing. Please try again."
	case errors.Is(out.Err, ErrSpawnFailed):
		text = "The login flow could not be started. Please try again later."
	case errors.Is(out.Err, ErrMalformedCredential):
		text = "The login returned an unusable credential. Please try again."
	case errors.Is(out.Err, ErrCooldownActive):
		text = fmt.Sprintf("Login succeeded, but account 「%s」 already has a container. It can be replaced in %d day(s).",
			out.Identity, out.RemainingDays)
	case errors.Is(out.Err, ErrTeardownFailed):
		text = "The existing container could not be replaced. Please try again later."
	case errors.Is(out.Err, ErrProvisionFailed):
		text = fmt.Sprintf("Login succeeded.\nCookie:\n%s\n\nCreating the container failed, please try again later.", out.Cookie)
	case errors.Is(out.Err, ErrCommitFailed):
		text = fmt.Sprintf("The container was created (ID %s) but recording it failed. Please contact the operator.", out.ContainerID)
	default:
		text = "Login failed. Please try again later."
	}

	if err := o.replier.SendText(ctx, trig.RequesterID, text); err != nil {
		o.log.Error("outcome reply failed", "requester", trig.RequesterID, "error", err)
	}
}
