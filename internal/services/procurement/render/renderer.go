// Package render turns workflow transitions into platform-neutral
// notification messages.
package render

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
)

// Commands carried by message actions. The chat front end maps callback
// data "<command>:<target id>" back to workflow operations.
const (
	CommandApproveUser     = "approve_user"
	CommandRejectUser      = "reject_user"
	CommandMakeOffer       = "make_offer"
	CommandApproveOffer    = "approve_offer"
	CommandRejectOffer     = "reject_offer"
	CommandShipDelivery    = "ship_delivery"
	CommandReceiveDelivery = "receive_delivery"
)

const (
	// DefaultTimeZone is where the buyers, sellers and warehouses operate.
	DefaultTimeZone = "Asia/Tashkent"
	timeLayout      = "02.01.2006 15:04"
	previewItems    = 3
	// manifestItems bounds delivery manifests so a message stays within
	// chat platform text limits.
	manifestItems = 30
)

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Renderer formats messages with locale-aware number grouping and local time.
type Renderer struct {
	loc      Localizer
	location *time.Location
}

// NewRenderer builds a BaseLocale renderer for DefaultTimeZone.
func NewRenderer() *Renderer {
	return NewRendererFor(BaseLocale)
}

// NewRendererFor builds a renderer for the loaded locale closest to locale.
// Tashkent has no daylight saving, so a fixed UTC+5 zone stands in when
// tzdata is absent.
func NewRendererFor(locale string) *Renderer {
	location, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		location = time.FixedZone("UZT", 5*60*60)
	}
	return &Renderer{
		loc:      message.NewPrinter(language.Make(catalogBundle.Match(locale))),
		location: location,
	}
}

// Party names one participant in a message.
type Party struct {
	Identifier string
	Name       string
}

// PartyOf builds a Party from a user.
func PartyOf(user domain.User) Party {
	return Party{Identifier: user.Identifier, Name: user.Name}
}

func (p Party) label() string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return p.Identifier
	}
	return name
}

// RegistrationPending is sent to admins when a buyer or warehouse operator registers.
func (r *Renderer) RegistrationPending(user domain.User) notifydomain.Message {
	return notifydomain.Message{
		Text: r.loc.Sprintf("identity.registration_pending",
			user.Name, r.orNone(user.Phone), user.Role.String(), r.orNone(user.Site), user.Identifier),
		Actions: []notifydomain.Action{
			{Label: r.loc.Sprintf("action.approve_user"), Command: CommandApproveUser, TargetID: user.Identifier},
			{Label: r.loc.Sprintf("action.reject_user"), Command: CommandRejectUser, TargetID: user.Identifier},
		},
	}
}

// UserApproved is sent to a user whose registration was approved.
func (r *Renderer) UserApproved(user domain.User) notifydomain.Message {
	return notifydomain.Message{Text: r.loc.Sprintf("identity.approved", user.Role.String())}
}

// UserRejected is sent to a user whose registration was rejected.
func (r *Renderer) UserRejected(domain.User) notifydomain.Message {
	return notifydomain.Message{Text: r.loc.Sprintf("identity.rejected")}
}

// RequestSubmitted is sent to sellers; it previews the first items.
func (r *Renderer) RequestSubmitted(request domain.PurchaseRequest, buyer Party) notifydomain.Message {
	return notifydomain.Message{
		Text: r.loc.Sprintf("request.submitted",
			request.ID,
			buyer.label(),
			r.orNone(request.SiteName),
			r.orNone(request.SupplierName),
			len(request.Items),
			r.requestItems(request.Items, previewItems),
			r.FormatTime(request.CreatedAt),
		),
		Actions: []notifydomain.Action{
			{Label: r.loc.Sprintf("action.make_offer"), Command: CommandMakeOffer, TargetID: request.ID},
		},
	}
}

// RequestCancelled is sent to sellers that offered on a cancelled request.
func (r *Renderer) RequestCancelled(request domain.PurchaseRequest) notifydomain.Message {
	return notifydomain.Message{Text: r.loc.Sprintf("request.cancelled", request.ID, r.orNone(request.SiteName))}
}

// OfferSubmitted is sent to the buyer and bundles every pending offer, each
// with its first items and approve and reject actions.
func (r *Renderer) OfferSubmitted(request domain.PurchaseRequest, offers []domain.SellerOffer, sellers map[string]Party) notifydomain.Message {
	summaries := make([]string, 0, len(offers))
	actions := make([]notifydomain.Action, 0, 2*len(offers))
	for _, offer := range offers {
		seller, ok := sellers[offer.SellerID]
		if !ok {
			seller = Party{Identifier: offer.SellerID}
		}
		summaries = append(summaries, r.loc.Sprintf("offer.summary",
			offer.ID, seller.label(), r.FormatMoney(offer.TotalAmount), r.offerItems(offer.Items, previewItems)))
		actions = append(actions,
			notifydomain.Action{Label: r.loc.Sprintf("action.approve_offer", offer.ID), Command: CommandApproveOffer, TargetID: offer.ID},
			notifydomain.Action{Label: r.loc.Sprintf("action.reject_offer", offer.ID), Command: CommandRejectOffer, TargetID: offer.ID},
		)
	}
	return notifydomain.Message{
		Text:    r.loc.Sprintf("offer.submitted", request.ID, r.orNone(request.SiteName), strings.Join(summaries, "\n\n")),
		Actions: actions,
	}
}

// OfferApproved is sent to the seller with the ship action.
func (r *Renderer) OfferApproved(request domain.PurchaseRequest, offer domain.SellerOffer, delivery domain.Delivery, warehouseMatched bool) notifydomain.Message {
	text := r.loc.Sprintf("offer.approved", offer.ID, request.ID, r.FormatMoney(offer.TotalAmount), r.orNone(request.SiteName))
	if !warehouseMatched {
		text += "\n" + r.loc.Sprintf("offer.approved.no_warehouse", r.orNone(request.SiteName))
	}
	return notifydomain.Message{
		Text: text,
		Actions: []notifydomain.Action{
			{Label: r.loc.Sprintf("action.ship_delivery"), Command: CommandShipDelivery, TargetID: delivery.ID},
		},
	}
}

// OfferRejected is sent to the seller only.
func (r *Renderer) OfferRejected(request domain.PurchaseRequest, offer domain.SellerOffer) notifydomain.Message {
	return notifydomain.Message{Text: r.loc.Sprintf("offer.rejected", offer.ID, request.ID)}
}

// DeliveryAssigned is sent to matched warehouse operators with the manifest.
func (r *Renderer) DeliveryAssigned(request domain.PurchaseRequest, offer domain.SellerOffer, delivery domain.Delivery, buyer, seller Party) notifydomain.Message {
	return notifydomain.Message{
		Text: r.loc.Sprintf("delivery.assigned",
			delivery.ID, r.orNone(request.SiteName), seller.label(), buyer.label(),
			r.FormatMoney(offer.TotalAmount), r.offerItems(offer.Items, manifestItems)),
	}
}

// DeliveryShipped is sent to warehouse operators with the receive action.
func (r *Renderer) DeliveryShipped(request domain.PurchaseRequest, offer domain.SellerOffer, delivery domain.Delivery, seller Party) notifydomain.Message {
	shippedAt := delivery.UpdatedAt
	if delivery.ShippedAt != nil {
		shippedAt = *delivery.ShippedAt
	}
	return notifydomain.Message{
		Text: r.loc.Sprintf("delivery.shipped",
			delivery.ID, r.orNone(request.SiteName), seller.label(),
			r.FormatMoney(offer.TotalAmount), r.offerItems(offer.Items, manifestItems), r.FormatTime(shippedAt)),
		Actions: []notifydomain.Action{
			{Label: r.loc.Sprintf("action.receive_delivery"), Command: CommandReceiveDelivery, TargetID: delivery.ID},
		},
	}
}

// DeliveryReceived is sent to the buyer.
func (r *Renderer) DeliveryReceived(request domain.PurchaseRequest, delivery domain.Delivery) notifydomain.Message {
	receivedAt := delivery.UpdatedAt
	if delivery.ReceivedAt != nil {
		receivedAt = *delivery.ReceivedAt
	}
	return notifydomain.Message{
		Text: r.loc.Sprintf("delivery.received", delivery.ID, request.ID, r.FormatTime(receivedAt)),
	}
}

// FormatMoney renders an amount with thousands grouping and two decimals.
func (r *Renderer) FormatMoney(amount decimal.Decimal) string {
	return r.groupDecimal(amount.StringFixed(domain.MoneyScale))
}

// FormatQuantity renders a quantity with thousands grouping and no
// trailing zeros.
func (r *Renderer) FormatQuantity(quantity decimal.Decimal) string {
	return r.groupDecimal(quantity.String())
}

// FormatTime renders t in the renderer's time zone.
func (r *Renderer) FormatTime(t time.Time) string {
	return t.In(r.location).Format(timeLayout)
}

func (r *Renderer) groupDecimal(text string) string {
	sign := ""
	if strings.HasPrefix(text, "-") {
		sign, text = "-", text[1:]
	}
	whole, fraction, hasFraction := strings.Cut(text, ".")
	value, err := decimal.NewFromString(whole)
	if err != nil || !value.IsInteger() || len(whole) > 18 {
		return sign + text
	}
	grouped := r.loc.Sprintf("%d", value.IntPart())
	if hasFraction {
		return sign + grouped + r.loc.Sprintf("format.decimal_separator") + fraction
	}
	return sign + grouped
}

func (r *Renderer) requestItems(items []domain.RequestItem, limit int) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		if limit > 0 && i == limit {
			lines = append(lines, r.loc.Sprintf("items.more", len(items)-limit))
			break
		}
		lines = append(lines, r.loc.Sprintf("item.request", item.Position, item.Product, r.FormatQuantity(item.Quantity), item.Unit))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) offerItems(items []domain.OfferItem, limit int) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		if limit > 0 && i == limit {
			lines = append(lines, r.loc.Sprintf("items.more", len(items)-limit))
			break
		}
		lines = append(lines, r.loc.Sprintf("item.offer",
			item.Position, item.Product, r.FormatQuantity(item.Quantity), item.Unit,
			r.FormatMoney(item.PricePerUnit), r.FormatMoney(item.TotalPrice)))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) orNone(value string) string {
	if strings.TrimSpace(value) == "" {
		return r.loc.Sprintf("value.none")
	}
	return value
}
