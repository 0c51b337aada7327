package receive

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/group"
	"github.com/christian-oudard/signal-cli/internal/identity"
	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/recipient"
	"github.com/christian-oudard/signal-cli/internal/status"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// networkRetryDelay is the pause before re-pulling after a transient
// transport failure.
const networkRetryDelay = 2 * time.Second

// Handler is invoked exactly once per pulled envelope. On decryption failure
// content is nil and err carries the cause; the envelope is still consumed.
type Handler func(env *protocol.Envelope, content *protocol.Content, err error)

// Options controls one Run invocation.
type Options struct {
	// Timeout bounds each individual pull.
	Timeout time.Duration
	// ReturnOnTimeout makes Run return after the first idle pull instead
	// of pulling again. Used for one-shot "drain what is queued" calls.
	ReturnOnTimeout bool
	// MaxMessages stops the loop after this many envelopes, 0 = unbounded.
	MaxMessages int
}

// Loop pulls envelopes from the transport, decrypts them, applies their
// local state side effects and hands each one to the caller's handler.
type Loop struct {
	transport  protocol.Transport
	engine     protocol.Engine
	resolver   *recipient.Resolver
	identities *identity.Store
	groups     *group.Store
	db         *store.DB
	bus        *bus.Bus
	state      *status.Machine
	logger     *zap.Logger
	self       store.RecipientID

	mu       sync.Mutex
	caughtUp bool
}

// NewLoop creates a receive loop for the self recipient.
func NewLoop(
	transport protocol.Transport,
	engine protocol.Engine,
	resolver *recipient.Resolver,
	identities *identity.Store,
	groups *group.Store,
	db *store.DB,
	b *bus.Bus,
	state *status.Machine,
	self store.RecipientID,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		transport:  transport,
		engine:     engine,
		resolver:   resolver,
		identities: identities,
		groups:     groups,
		db:         db,
		bus:        b,
		state:      state,
		logger:     logger,
		self:       self,
	}
}

// HasCaughtUp reports whether the queued server backlog was fully drained at
// least once since the loop started.
func (l *Loop) HasCaughtUp() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.caughtUp
}

// Run pulls and processes envelopes until the context is cancelled, the
// timeout policy stops it, or an account-fatal error occurs. Side effects of
// each envelope (identity records, group changes, contact sync) are applied
// to local state before the handler sees it.
func (l *Loop) Run(ctx context.Context, opts Options, handler Handler) error {
	if err := l.state.Transition(status.Receiving); err != nil {
		l.logger.Warn("receive state transition refused", zap.Error(err))
	}
	defer func() {
		if err := l.state.Transition(status.Ready); err != nil {
			l.logger.Debug("receive state transition refused", zap.Error(err))
		}
	}()

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		env, err := l.transport.Pull(ctx, opts.Timeout)
		switch {
		case err == nil:

		case errors.Is(err, protocol.ErrCaughtUp):
			l.markCaughtUp()
			continue

		case errors.Is(err, protocol.ErrPullTimeout):
			if opts.ReturnOnTimeout {
				return nil
			}
			continue

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil

		default:
			var authFailed *protocol.AuthorizationFailedError
			if errors.As(err, &authFailed) {
				if terr := l.state.Transition(status.Failed); terr != nil {
					l.logger.Warn("receive state transition refused", zap.Error(terr))
				}
				return err
			}
			var network *protocol.NetworkError
			if errors.As(err, &network) {
				l.logger.Warn("pull failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(networkRetryDelay):
				}
				continue
			}
			return err
		}

		l.process(ctx, env, handler)
		processed++
		if opts.MaxMessages > 0 && processed >= opts.MaxMessages {
			return nil
		}
	}
}

// process decrypts one envelope and invokes the handler exactly once,
// whether decryption succeeded or not.
func (l *Loop) process(ctx context.Context, env *protocol.Envelope, handler Handler) {
	content, err := l.engine.Decrypt(ctx, env)
	if err != nil {
		var untrusted *protocol.UntrustedIdentityError
		if errors.As(err, &untrusted) {
			// Record the announced key so a later trust decision can
			// unblock the conversation.
			if rid, rerr := l.resolver.ResolveAddress(untrusted.Address); rerr == nil {
				if _, _, rerr := l.identities.RecordIdentity(rid, untrusted.IdentityKey); rerr != nil {
					l.logger.Error("failed to record announced identity", zap.Error(rerr))
				}
			} else {
				l.logger.Error("failed to resolve envelope sender", zap.Error(rerr))
			}
		} else {
			l.logger.Warn("failed to decrypt envelope",
				zap.Int64("timestamp", env.Timestamp), zap.Error(err))
		}
		handler(env, nil, err)
		return
	}

	rid, err := l.resolver.ResolveAddress(content.Sender)
	if err != nil {
		l.logger.Error("failed to resolve envelope sender", zap.Error(err))
		handler(env, content, nil)
		return
	}

	l.applySideEffects(rid, content)

	if l.bus != nil {
		l.bus.Publish(bus.Event{
			Kind:      "message.received",
			Timestamp: time.Now(),
			Payload:   content,
		})
	}
	handler(env, content, nil)
}

// applySideEffects updates local state from the message's control payloads.
// Failures here are logged, not surfaced: the handler still gets the
// message.
func (l *Loop) applySideEffects(sender store.RecipientID, content *protocol.Content) {
	if dm := content.DataMessage; dm != nil {
		if dm.GroupContext != nil {
			l.applyGroupContext(dm.GroupContext)
		} else {
			l.applyExpireTimer(sender, dm.ExpireTimer)
		}
	}
	if sm := content.SyncMessage; sm != nil {
		l.applyContactSync(sm)
	}
}

// applyGroupContext applies a remotely authorized group change. A change
// with a stale revision is a no-op inside the group store.
func (l *Loop) applyGroupContext(gc *protocol.GroupContext) {
	if gc.GroupChange == nil {
		return
	}
	req, err := l.convertChange(gc.GroupChange)
	if err != nil {
		l.logger.Error("failed to resolve group change members", zap.Error(err))
		return
	}
	if _, err := l.groups.ApplyRemote(l.self, gc.MasterKey, gc.Revision, req); err != nil {
		l.logger.Error("failed to apply remote group change", zap.Error(err))
	}
}

// convertChange maps the wire addresses of a group change to local recipient
// handles.
func (l *Loop) convertChange(change *protocol.GroupChange) (*group.UpdateRequest, error) {
	resolveAll := func(addrs []protocol.Address) ([]store.RecipientID, error) {
		ids := make([]store.RecipientID, 0, len(addrs))
		for _, a := range addrs {
			id, err := l.resolver.ResolveAddress(a)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	req := &group.UpdateRequest{
		Title:            change.Title,
		Description:      change.Description,
		ExpirationTimer:  change.ExpireTimer,
		AnnouncementOnly: change.AnnouncementsOnly,
	}
	var err error
	if req.AddMembers, err = resolveAll(change.AddMembers); err != nil {
		return nil, err
	}
	if req.RemoveMembers, err = resolveAll(change.RemoveMembers); err != nil {
		return nil, err
	}
	if req.PromoteAdmins, err = resolveAll(change.PromoteAdmins); err != nil {
		return nil, err
	}
	if req.DemoteAdmins, err = resolveAll(change.DemoteAdmins); err != nil {
		return nil, err
	}
	return req, nil
}

// applyExpireTimer converges the 1:1 disappearing-message timer on the value
// the sender announced.
func (l *Loop) applyExpireTimer(sender store.RecipientID, seconds int) {
	c, err := l.db.GetContact(sender)
	if err != nil {
		l.logger.Error("failed to load contact", zap.Error(err))
		return
	}
	if c != nil && c.ExpirationTimer == seconds {
		return
	}
	if err := l.db.SetContactExpirationTimer(sender, seconds); err != nil {
		l.logger.Error("failed to update expiration timer", zap.Error(err))
	}
}

// applyContactSync merges a contact-sync message from another device of the
// same account into the local address book.
func (l *Loop) applyContactSync(sm *protocol.SyncMessage) {
	updated := false
	for _, rec := range sm.Contacts {
		rid, err := l.resolver.ResolveAddress(rec.Address)
		if err != nil {
			l.logger.Error("failed to resolve synced contact", zap.Error(err))
			continue
		}
		c := &store.Contact{
			RecipientID:     rid,
			Name:            rec.Name,
			Blocked:         rec.Blocked,
			ExpirationTimer: rec.ExpireTimer,
			ProfileSharing:  rec.ProfileSharing,
		}
		if err := l.db.UpsertContact(c); err != nil {
			l.logger.Error("failed to upsert synced contact", zap.Error(err))
			continue
		}
		updated = true
	}
	for _, addr := range sm.Blocked {
		rid, err := l.resolver.ResolveAddress(addr)
		if err != nil {
			l.logger.Error("failed to resolve blocked address", zap.Error(err))
			continue
		}
		if err := l.db.SetContactBlocked(rid, true); err != nil {
			l.logger.Error("failed to block synced contact", zap.Error(err))
			continue
		}
		updated = true
	}
	if updated && l.bus != nil {
		l.bus.Publish(bus.Event{
			Kind:      "contact.updated",
			Timestamp: time.Now(),
		})
	}
}

func (l *Loop) markCaughtUp() {
	l.mu.Lock()
	first := !l.caughtUp
	l.caughtUp = true
	l.mu.Unlock()
	if !first {
		return
	}
	l.logger.Info("caught up with server backlog")
	if err := l.state.Transition(status.CaughtUp); err != nil {
		l.logger.Debug("receive state transition refused", zap.Error(err))
	}
	if l.bus != nil {
		l.bus.Publish(bus.Event{
			Kind:      "receive.caught_up",
			Timestamp: time.Now(),
		})
	}
}
