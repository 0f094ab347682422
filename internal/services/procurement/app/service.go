// Package app implements the procurement workflow use-cases: the identity
// gate, request and offer submission, offer approval and delivery tracking.
// Every transition is persisted together with its outbox events.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	"github.com/louisbranch/supplyflow/internal/platform/id"
	"github.com/louisbranch/supplyflow/internal/platform/timeouts"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/render"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

// ErrStoreNotConfigured indicates the workflow is missing persistence wiring.
var ErrStoreNotConfigured = errors.New("procurement store is not configured")

const (
	recentRequestsLimit = 5
	listLimit           = 20
)

// Options tunes a workflow. Zero values fall back to production defaults.
type Options struct {
	Clock    func() time.Time
	NewID    func() (string, error)
	Logf     func(string, ...any)
	Renderer *render.Renderer
}

// core holds the dependencies shared by every use-case.
type core struct {
	store    storage.Store
	clock    func() time.Time
	newID    func() (string, error)
	logf     func(string, ...any)
	renderer *render.Renderer
}

func newCore(store storage.Store, opts Options) *core {
	c := &core{
		store:    store,
		clock:    opts.Clock,
		newID:    opts.NewID,
		logf:     opts.Logf,
		renderer: opts.Renderer,
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.newID == nil {
		c.newID = id.NewID
	}
	if c.logf == nil {
		c.logf = func(string, ...any) {}
	}
	if c.renderer == nil {
		c.renderer = render.NewRenderer()
	}
	return c
}

func (c *core) ready() error {
	if c == nil || c.store == nil {
		return ErrStoreNotConfigured
	}
	return nil
}

func (c *core) now() time.Time {
	return c.clock().UTC()
}

// storeContext bounds one store call. Writes that were accepted are not
// abandoned when the caller goes away.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeouts.StoreOperation)
}

// newEvent builds one outbox event. It reports false when no recipient is
// left after de-duplication, in which case nothing should be enqueued.
func (c *core) newEvent(eventType, entityID string, recipients []string, msg notifydomain.Message, at time.Time) (notifystorage.OutboxEvent, bool, error) {
	recipients = notifydomain.UniqueRecipients(recipients)
	if len(recipients) == 0 {
		return notifystorage.OutboxEvent{}, false, nil
	}
	payload, err := notifydomain.MarshalEnvelope(notifydomain.Envelope{Recipients: recipients, Message: msg})
	if err != nil {
		return notifystorage.OutboxEvent{}, false, err
	}
	eventID, err := c.newID()
	if err != nil {
		return notifystorage.OutboxEvent{}, false, fmt.Errorf("generate event id: %w", err)
	}
	return notifystorage.OutboxEvent{
		ID:            eventID,
		EventType:     eventType,
		EntityID:      entityID,
		DedupeKey:     notifydomain.DedupeKey(eventType, entityID),
		PayloadJSON:   payload,
		Status:        notifystorage.OutboxStatusPending,
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}, true, nil
}

// events collects outbox events, skipping those without recipients.
type events struct {
	core *core
	at   time.Time
	list []notifystorage.OutboxEvent
	err  error
}

func (c *core) events(at time.Time) *events {
	return &events{core: c, at: at}
}

func (e *events) add(eventType, entityID string, recipients []string, msg notifydomain.Message) bool {
	if e.err != nil {
		return false
	}
	event, ok, err := e.core.newEvent(eventType, entityID, recipients, msg, e.at)
	if err != nil {
		e.err = err
		return false
	}
	if ok {
		e.list = append(e.list, event)
	}
	return ok
}

func (e *events) result() ([]notifystorage.OutboxEvent, error) {
	return e.list, e.err
}

// approvedIdentifiers lists identifiers of approved users holding role.
func (c *core) approvedIdentifiers(ctx context.Context, role domain.Role) ([]domain.User, []string, error) {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	users, err := c.store.ListApprovedUsers(storeCtx, role)
	if err != nil {
		return nil, nil, fmt.Errorf("list approved %s users: %w", role, err)
	}
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.Identifier)
	}
	return users, ids, nil
}

// party resolves a display party for an identifier, falling back to the
// bare identifier when the user cannot be loaded.
func (c *core) party(ctx context.Context, identifier string) render.Party {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	user, err := c.store.GetUser(storeCtx, identifier)
	if err != nil {
		return render.Party{Identifier: identifier}
	}
	return render.PartyOf(user)
}

func (c *core) getRequest(ctx context.Context, requestID string) (domain.PurchaseRequest, error) {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	request, err := c.store.GetRequest(storeCtx, requestID)
	if err != nil {
		return domain.PurchaseRequest{}, mapStorageError(err, "request", requestID)
	}
	return request, nil
}

func (c *core) getOffer(ctx context.Context, offerID string) (domain.SellerOffer, error) {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	offer, err := c.store.GetOffer(storeCtx, offerID)
	if err != nil {
		return domain.SellerOffer{}, mapStorageError(err, "offer", offerID)
	}
	return offer, nil
}

func (c *core) getDelivery(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	delivery, err := c.store.GetDelivery(storeCtx, deliveryID)
	if err != nil {
		return domain.Delivery{}, mapStorageError(err, "delivery", deliveryID)
	}
	return delivery, nil
}

// identityEntity keys identity events per registration so a user who
// registers again is announced again.
func identityEntity(user domain.User) string {
	return user.Identifier + ":" + strconv.FormatInt(user.RegisteredAt.UTC().UnixMilli(), 10)
}

// decisionEntity keys an approve or reject notice on the user state it
// leaves, so concurrent identical decisions collapse while a later reversal
// is announced again.
func decisionEntity(user domain.User) string {
	return identityEntity(user) + ":" + strconv.FormatInt(user.UpdatedAt.UTC().UnixMilli(), 10)
}

func requireID(kind, raw string) (string, error) {
	value, err := domain.NormalizeIdentifier(raw)
	if err != nil {
		return "", apperrors.WithMetadata(apperrors.CodeIdentifierMalformed, kind+" id is required", map[string]string{"Entity": kind})
	}
	return value, nil
}

func mapStorageError(err error, entity, entityID string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WithMetadata(apperrors.CodeNotFound, entity+" not found", map[string]string{
			"Entity":   entity,
			"EntityID": entityID,
		})
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Wrap(apperrors.CodeConcurrentModification, entity+" was modified concurrently", err)
	default:
		return fmt.Errorf("%s %s: %w", entity, entityID, err)
	}
}
