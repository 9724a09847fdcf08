package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/truthlens/entitlements/pkg/lock"
	"github.com/truthlens/entitlements/pkg/logger"
	"github.com/truthlens/entitlements/pkg/statemachine"
)

// Transition is one lifecycle step applied by a validation.
type Transition struct {
	UserID uuid.UUID `json:"user_id"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Event  Event     `json:"event"`
	At     time.Time `json:"at"`
}

// TransitionHook is called after a validation that changed the record has
// been persisted, once per step, with the final record.
type TransitionHook func(ctx context.Context, t Transition, rec Record)

// Result of a validation. Validated is false when the check was skipped
// because the validation interval has not elapsed.
type Result struct {
	Record      *Record
	Validated   bool
	Transitions []Transition
}

// SweepReport summarises a ValidateAll run.
type SweepReport struct {
	Checked      int
	Transitioned int
	Failed       int
}

// Validator re-checks subscriptions against their expiry and, when a record
// has lapsed, against the payment provider.
type Validator struct {
	store    *Store
	provider EntitlementProvider
	locker   lock.Locker
	hooks    []TransitionHook
	log      *slog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithProvider sets the entitlement provider. Without one, lapsed records
// move through grace to expired on time alone.
func WithProvider(p EntitlementProvider) ValidatorOption {
	return func(v *Validator) {
		v.provider = p
	}
}

// WithLocker replaces the in-process keyed mutex, e.g. with lock.NewRedsync
// when several replicas share storage.
func WithLocker(l lock.Locker) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.locker = l
		}
	}
}

func WithHooks(hooks ...TransitionHook) ValidatorOption {
	return func(v *Validator) {
		for _, h := range hooks {
			if h != nil {
				v.hooks = append(v.hooks, h)
			}
		}
	}
}

func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

// NewValidator panics when store is nil. The validator reads time from the
// store's clock.
func NewValidator(store *Store, opts ...ValidatorOption) *Validator {
	if store == nil {
		panic("subscription: store is required")
	}
	v := &Validator{
		store:  store,
		locker: lock.NewKeyedMutex(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate brings the user's record up to date. Unless force is set, a record
// validated within its interval is returned as is.
//
// A provider failure returns ErrProviderUnavailable and leaves the record,
// lastValidated included, untouched.
func (v *Validator) Validate(ctx context.Context, userID uuid.UUID, force bool) (*Result, error) {
	rec, err := v.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !force && !rec.DueForValidation(v.store.now()) {
		return &Result{Record: rec}, nil
	}

	var res *Result
	err = lock.With(ctx, v.locker, "validate:"+userID.String(), func(ctx context.Context) error {
		var err error
		res, err = v.validateLocked(ctx, userID, force)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, t := range res.Transitions {
		for _, hook := range v.hooks {
			hook(ctx, t, *res.Record)
		}
	}
	return res, nil
}

func (v *Validator) validateLocked(ctx context.Context, userID uuid.UUID, force bool) (*Result, error) {
	// Another caller may have validated while we waited for the lock.
	rec, err := v.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !force && !rec.DueForValidation(v.store.now()) {
		return &Result{Record: rec}, nil
	}

	var ent *Entitlement
	if v.needsProvider(rec, v.store.now()) {
		e, err := v.provider.Revalidate(ctx, *rec)
		if err != nil {
			v.log.WarnContext(ctx, "entitlement provider failed",
				logger.UserID(userID),
				logger.Status(string(rec.Status)),
				logger.Error(err),
			)
			return nil, errors.Join(ErrProviderUnavailable, err)
		}
		ent = &e
	}

	var steps []statemachine.Step[Status, Event]
	updated, err := v.store.mutate(ctx, userID, func(cur *Record, now time.Time) error {
		in := &lifecycleInput{rec: cur, now: now, entitlement: ent, catalog: v.store.catalog}
		final, s, err := lifecycle.Settle(ctx, cur.Status, in)
		if err != nil {
			return err
		}
		cur.Status = final
		cur.LastValidated = now
		steps = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Record: updated, Validated: true}
	for _, s := range steps {
		res.Transitions = append(res.Transitions, Transition{
			UserID: userID,
			From:   s.From,
			To:     s.To,
			Event:  s.Event,
			At:     updated.LastValidated,
		})
	}
	return res, nil
}

// needsProvider is true for provider-backed records that are in grace or
// about to enter it.
func (v *Validator) needsProvider(rec *Record, now time.Time) bool {
	if v.provider == nil || rec.ProviderSubscriptionID == "" {
		return false
	}
	switch rec.Status {
	case StatusGracePeriod:
		return true
	case StatusActive:
		return rec.ExpiresAt != nil && now.After(*rec.ExpiresAt)
	}
	return false
}

// ValidateAll runs a non-forced validation for every stored record. Per-user
// failures are counted and logged; only listing the records or a cancelled
// context stops the sweep.
func (v *Validator) ValidateAll(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	ids, err := v.store.UserIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		res, err := v.Validate(ctx, id, false)
		if err != nil {
			report.Failed++
			v.log.ErrorContext(ctx, "subscription validation failed", logger.UserID(id), logger.Error(err))
			continue
		}
		if len(res.Transitions) > 0 {
			report.Transitioned++
		}
	}
	return report, nil
}

// LogHook logs every transition.
func LogHook(log *slog.Logger) TransitionHook {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, t Transition, rec Record) {
		log.InfoContext(ctx, "subscription transition",
			logger.UserID(t.UserID),
			logger.Event(string(t.Event)),
			logger.Transition(string(t.From), string(t.To)),
			logger.Tier(string(rec.Tier)),
		)
	}
}
