package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/christian-oudard/signal-cli/internal/attachment"
	"github.com/christian-oudard/signal-cli/internal/group"
	"github.com/christian-oudard/signal-cli/internal/identity"
	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/recipient"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// sendConcurrency bounds parallel per-recipient sends within one call.
const sendConcurrency = 4

// Message is one logical outbound text message.
type Message struct {
	Body            string
	AttachmentPaths []string
}

// Dispatcher turns one logical send request into a set of per-recipient
// protocol sends, collecting independent successes and failures.
type Dispatcher struct {
	db         *store.DB
	resolver   *recipient.Resolver
	identities *identity.Store
	groups     *group.Store
	engine     protocol.Engine
	transport  protocol.Transport
	streamer   protocol.AttachmentStreamer
	logger     *zap.Logger
	self       store.RecipientID
}

// New creates a dispatcher sending on behalf of the self recipient.
func New(
	db *store.DB,
	resolver *recipient.Resolver,
	identities *identity.Store,
	groups *group.Store,
	engine protocol.Engine,
	transport protocol.Transport,
	streamer protocol.AttachmentStreamer,
	self store.RecipientID,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		db:         db,
		resolver:   resolver,
		identities: identities,
		groups:     groups,
		engine:     engine,
		transport:  transport,
		streamer:   streamer,
		logger:     logger,
		self:       self,
	}
}

type delivery struct {
	recipient store.RecipientID
	content   *protocol.Content
}

// SendMessage sends a text message with optional attachments to the given
// targets. Attachment preparation failures abort the whole message with
// AttachmentInvalidError; per-recipient failures are aggregated.
func (d *Dispatcher) SendMessage(ctx context.Context, msg *Message, targets []Target) (*Results, error) {
	pointers, err := attachment.Prepare(ctx, d.streamer, msg.AttachmentPaths)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().UnixMilli()
	deliveries, err := d.expand(targets, timestamp, func(g *store.Group) *protocol.Content {
		dm := &protocol.DataMessage{Body: msg.Body, Attachments: pointers}
		if g != nil {
			dm.GroupContext = groupContext(g)
			dm.ExpireTimer = g.ExpirationTimer
		}
		return &protocol.Content{Timestamp: timestamp, DataMessage: dm}
	})
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, timestamp, deliveries)
}

// SendTyping sends a typing indicator to the given targets.
func (d *Dispatcher) SendTyping(ctx context.Context, action protocol.TypingAction, targets []Target) (*Results, error) {
	timestamp := time.Now().UnixMilli()
	deliveries, err := d.expand(targets, timestamp, func(g *store.Group) *protocol.Content {
		tm := &protocol.TypingMessage{Action: action}
		if g != nil {
			tm.GroupID = []byte(g.ID)
		}
		return &protocol.Content{Timestamp: timestamp, TypingMessage: tm}
	})
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, timestamp, deliveries)
}

// SendReceipt sends a read/viewed/delivery receipt for the given message
// timestamps to their sender.
func (d *Dispatcher) SendReceipt(ctx context.Context, to store.RecipientID, receiptType protocol.ReceiptType, timestamps []int64) (*Results, error) {
	timestamp := time.Now().UnixMilli()
	content := &protocol.Content{
		Timestamp: timestamp,
		ReceiptMessage: &protocol.ReceiptMessage{
			Type:       receiptType,
			Timestamps: timestamps,
		},
	}
	return d.dispatch(ctx, timestamp, []delivery{{recipient: to, content: content}})
}

// SendReaction sends an emoji reaction to the given targets.
func (d *Dispatcher) SendReaction(ctx context.Context, emoji string, remove bool, targetAuthor store.RecipientID, targetTimestamp int64, targets []Target) (*Results, error) {
	authorAddr, err := d.resolver.Address(targetAuthor)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().UnixMilli()
	deliveries, err := d.expand(targets, timestamp, func(g *store.Group) *protocol.Content {
		dm := &protocol.DataMessage{
			Reaction: &protocol.Reaction{
				Emoji:               emoji,
				Remove:              remove,
				TargetAuthor:        authorAddr,
				TargetSentTimestamp: targetTimestamp,
			},
		}
		if g != nil {
			dm.GroupContext = groupContext(g)
		}
		return &protocol.Content{Timestamp: timestamp, DataMessage: dm}
	})
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, timestamp, deliveries)
}

// SendRemoteDelete asks the targets to delete a previously sent message.
func (d *Dispatcher) SendRemoteDelete(ctx context.Context, targetTimestamp int64, targets []Target) (*Results, error) {
	timestamp := time.Now().UnixMilli()
	deliveries, err := d.expand(targets, timestamp, func(g *store.Group) *protocol.Content {
		dm := &protocol.DataMessage{
			RemoteDelete: &protocol.RemoteDelete{TargetSentTimestamp: targetTimestamp},
		}
		if g != nil {
			dm.GroupContext = groupContext(g)
		}
		return &protocol.Content{Timestamp: timestamp, DataMessage: dm}
	})
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, timestamp, deliveries)
}

// SendEndSession asks the recipients to discard the current ratchet session.
func (d *Dispatcher) SendEndSession(ctx context.Context, recipients []store.RecipientID) (*Results, error) {
	timestamp := time.Now().UnixMilli()
	deliveries := make([]delivery, 0, len(recipients))
	for _, r := range recipients {
		deliveries = append(deliveries, delivery{
			recipient: r,
			content: &protocol.Content{
				Timestamp:   timestamp,
				DataMessage: &protocol.DataMessage{EndSession: true},
			},
		})
	}
	return d.dispatch(ctx, timestamp, deliveries)
}

// SendSync sends a sync message to the account's own devices.
func (d *Dispatcher) SendSync(ctx context.Context, sync *protocol.SyncMessage) (*Results, error) {
	timestamp := time.Now().UnixMilli()
	content := &protocol.Content{Timestamp: timestamp, SyncMessage: sync}
	return d.dispatch(ctx, timestamp, []delivery{{recipient: d.self, content: content}})
}

// SendGroupState fans a group-state delta out to the given snapshot's
// members, the caller included, so every member converges on the
// post-mutation state.
func (d *Dispatcher) SendGroupState(ctx context.Context, snap *group.Snapshot, change *protocol.GroupChange) (*Results, error) {
	timestamp := time.Now().UnixMilli()
	gctx := groupContext(&snap.Group)
	gctx.GroupChange = change
	content := &protocol.Content{
		Timestamp:   timestamp,
		DataMessage: &protocol.DataMessage{GroupContext: gctx},
	}
	deliveries := make([]delivery, 0, len(snap.Members))
	for _, m := range snap.Members {
		deliveries = append(deliveries, delivery{recipient: m.RecipientID, content: content})
	}
	return d.dispatch(ctx, timestamp, deliveries)
}

// expand resolves targets to individual deliveries: group targets become
// their current member set (excluding self and blocked contacts), the
// resulting set is deduplicated. Group preconditions are checked here and
// reported synchronously.
func (d *Dispatcher) expand(targets []Target, timestamp int64, build func(g *store.Group) *protocol.Content) ([]delivery, error) {
	var deliveries []delivery
	seen := make(map[store.RecipientID]bool)

	add := func(id store.RecipientID, content *protocol.Content) {
		if seen[id] {
			return
		}
		seen[id] = true
		deliveries = append(deliveries, delivery{recipient: id, content: content})
	}

	for _, t := range targets {
		if !t.isGroup {
			add(t.recipient, build(nil))
			continue
		}

		snap, err := d.groups.Get(t.group)
		if err != nil {
			return nil, err
		}
		if !snap.Group.Member {
			return nil, &group.NotAGroupMemberError{GroupID: t.group}
		}
		if snap.Group.Blocked {
			return nil, &group.GroupSendingNotAllowedError{GroupID: t.group, Action: "send to a blocked group"}
		}
		if snap.Group.AnnouncementOnly && !snap.IsAdmin(d.self) {
			return nil, &group.GroupSendingNotAllowedError{GroupID: t.group, Action: "send to an announcement-only group"}
		}

		content := build(&snap.Group)
		for _, m := range snap.Members {
			if m.RecipientID == d.self {
				continue
			}
			blocked, err := d.isBlocked(m.RecipientID)
			if err != nil {
				return nil, err
			}
			if blocked {
				continue
			}
			add(m.RecipientID, content)
		}
	}
	return deliveries, nil
}

// dispatch issues one independent send per delivery, bounded concurrent,
// and aggregates the outcomes. Only account-fatal errors abort the call.
func (d *Dispatcher) dispatch(ctx context.Context, timestamp int64, deliveries []delivery) (*Results, error) {
	results := &Results{
		Timestamp: timestamp,
		Entries:   make([]Result, len(deliveries)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for i, dv := range deliveries {
		i, dv := i, dv
		g.Go(func() error {
			res, err := d.sendOne(ctx, dv.recipient, dv.content)
			if err != nil {
				return err
			}
			results.Entries[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := len(results.Failed())
	d.logger.Info("dispatched message",
		zap.Int64("timestamp", timestamp),
		zap.Int("recipients", len(deliveries)),
		zap.Int("failed", failed))
	return results, nil
}

// sendOne performs the identity gate, encryption and transport send for one
// recipient. The returned error is non-nil only for account-fatal failures.
func (d *Dispatcher) sendOne(ctx context.Context, id store.RecipientID, content *protocol.Content) (Result, error) {
	addr, err := d.resolver.Address(id)
	if err != nil {
		return Result{Recipient: id, Type: NetworkFailure, Err: err}, nil
	}

	// Trust gate: an untrusted current identity blocks encryption until a
	// human decides.
	level, err := d.identities.GetTrustLevel(id)
	if err != nil {
		return Result{Recipient: id, Type: NetworkFailure, Err: err}, nil
	}
	if !level.Trusted() {
		ident, _ := d.identities.Current(id)
		return Result{Recipient: id, Type: IdentityFailure, Identity: ident}, nil
	}

	ciphertext, err := d.engine.Encrypt(ctx, addr, content)
	if err != nil {
		var untrusted *protocol.UntrustedIdentityError
		if errors.As(err, &untrusted) {
			ident, _, recordErr := d.identities.RecordIdentity(id, untrusted.IdentityKey)
			if recordErr != nil {
				d.logger.Error("failed to record changed identity",
					zap.Int64("recipient", int64(id)), zap.Error(recordErr))
			}
			return Result{Recipient: id, Type: IdentityFailure, Identity: ident, Err: err}, nil
		}
		return Result{Recipient: id, Type: NetworkFailure, Err: err}, nil
	}

	ack, err := d.transport.Send(ctx, addr, ciphertext)
	if err != nil {
		var (
			unregistered *protocol.UnregisteredError
			network      *protocol.NetworkError
			proof        *protocol.ProofRequiredError
			authFailed   *protocol.AuthorizationFailedError
		)
		switch {
		case errors.As(err, &authFailed):
			// Revoked credentials are fatal for the session.
			return Result{}, err
		case errors.As(err, &unregistered):
			return Result{Recipient: id, Type: UnregisteredFailure, Err: err}, nil
		case errors.As(err, &proof):
			return Result{Recipient: id, Type: ProofRequiredFailure, Err: err}, nil
		case errors.As(err, &network):
			return Result{Recipient: id, Type: NetworkFailure, Err: err}, nil
		default:
			return Result{Recipient: id, Type: NetworkFailure, Err: err}, nil
		}
	}
	return Result{Recipient: id, Type: Success, Timestamp: ack.Timestamp}, nil
}

func (d *Dispatcher) isBlocked(id store.RecipientID) (bool, error) {
	c, err := d.db.GetContact(id)
	if err != nil {
		return false, err
	}
	return c != nil && c.Blocked, nil
}

func groupContext(g *store.Group) *protocol.GroupContext {
	return &protocol.GroupContext{
		MasterKey: g.MasterKey,
		Revision:  g.Revision,
	}
}
