// Package subscription owns the per-user subscription record and its
// lifecycle.
//
// # Store
//
// Store keeps one Record per user in a kvstore.Store under
// "subscription:<user id>". The first Get persists free defaults. Update moves a
// user to a tier (free never expires, paid tiers run for the plan's term),
// Activate applies a provider-confirmed subscription and Cancel resets to free
// with status cancelled. Every mutation is a single atomic kvstore Update.
//
// # Validation
//
// Validator drives the expiry state machine:
//
//	active       --lapse-->  grace_period   now > expiresAt
//	grace_period --renew-->  active         provider confirms a later expiry
//	grace_period --expire--> expired        now > expiresAt + grace
//
// Transitions cascade, so a record validated long after its expiry goes
// straight to expired. free_tier, cancelled and expired records have no expiry
// logic; an expired record stays expired until Activate.
//
// A validation is skipped unless forced or the record's validation interval
// has elapsed. Only records that carry a provider subscription id and are past
// expiry cause a provider call. When that call fails, Validate returns
// ErrProviderUnavailable and the record is not written.
//
// Validations of one user are serialised through a lock.Locker. Transition
// hooks run after the record is persisted:
//
//	v := subscription.NewValidator(store,
//	    subscription.WithProvider(paddleProvider),
//	    subscription.WithLocker(lock.NewRedsync(redisClient, lockCfg)),
//	    subscription.WithHooks(
//	        subscription.LogHook(log),
//	        subscription.NewNotifier(sender, manageURL, log).Hook(),
//	    ),
//	)
//
// # Paddle
//
// PaddleProvider creates hosted checkouts, implements EntitlementProvider by
// looking the subscription up, and verifies webhooks. WebhookProcessor maps
// webhook events onto Activate and Cancel.
package subscription
