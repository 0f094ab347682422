// Package admin implements the operator command line: bootstrap admins,
// decide registrations, move spreadsheets in and out of the workflow, and
// inspect or requeue the notification outbox.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/supplyflow/internal/platform/cmd"
	"github.com/louisbranch/supplyflow/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/supplyflow/internal/platform/grpc"
	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/app"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/render"
	procurementsqlite "github.com/louisbranch/supplyflow/internal/services/procurement/storage/sqlite"
	"github.com/louisbranch/supplyflow/internal/services/procurement/tabular"
)

// Commands understood by Run.
const (
	CommandCreateAdmin       = "create-admin"
	CommandRegister          = "register"
	CommandPending           = "pending"
	CommandApprove           = "approve"
	CommandReject            = "reject"
	CommandRequests          = "requests"
	CommandRequestTemplate   = "request-template"
	CommandImportRequest     = "import-request"
	CommandOfferTemplate     = "offer-template"
	CommandImportOffer       = "import-offer"
	CommandOffers            = "offers"
	CommandApproveOffer      = "approve-offer"
	CommandRejectOffer       = "reject-offer"
	CommandDeliveries        = "deliveries"
	CommandShip              = "ship"
	CommandReceive           = "receive"
	CommandOutboxReport      = "outbox-report"
	CommandOutboxRequeueDead = "outbox-requeue-dead"
	CommandHealth            = "health"
)

var commands = []string{
	CommandCreateAdmin,
	CommandRegister,
	CommandPending,
	CommandApprove,
	CommandReject,
	CommandRequests,
	CommandRequestTemplate,
	CommandImportRequest,
	CommandOfferTemplate,
	CommandImportOffer,
	CommandOffers,
	CommandApproveOffer,
	CommandRejectOffer,
	CommandDeliveries,
	CommandShip,
	CommandReceive,
	CommandOutboxReport,
	CommandOutboxRequeueDead,
	CommandHealth,
}

// Config holds admin command configuration.
type Config struct {
	Command      string
	DBPath       string        `env:"SUPPLYFLOW_DB_PATH" envDefault:"data/supplyflow.db"`
	WorkerAddr   string        `env:"SUPPLYFLOW_ADMIN_WORKER_ADDR"`
	Timeout      time.Duration `env:"SUPPLYFLOW_ADMIN_TIMEOUT" envDefault:"1m"`
	Locale       string        `env:"SUPPLYFLOW_LOCALE" envDefault:"en-US"`
	JSONOutput   bool
	Actor        string
	Identifier   string
	Name         string
	Phone        string
	Role         string
	Site         string
	Location     string
	Supplier     string
	RequestID    string
	OfferID      string
	DeliveryID   string
	File         string
	OutboxStatus string
	Limit        int
}

// ParseConfig reads the command name from args[0], then environment
// defaults, then the remaining flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return Config{}, fmt.Errorf("command is required: %s", strings.Join(commands, ", "))
	}
	cfg := Config{Command: strings.TrimSpace(args[0]), Limit: 50}
	if !knownCommand(cfg.Command) {
		return Config{}, fmt.Errorf("unknown command %q: want one of %s", cfg.Command, strings.Join(commands, ", "))
	}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.WorkerAddr = discovery.OrDefaultGRPCAddr(cfg.WorkerAddr, discovery.ServiceWorker)

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the procurement sqlite database (default: SUPPLYFLOW_DB_PATH or data/supplyflow.db)")
	fs.StringVar(&cfg.WorkerAddr, "worker-addr", cfg.WorkerAddr, "worker gRPC health address")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "locale for notification text (default: SUPPLYFLOW_LOCALE or en-US)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.StringVar(&cfg.Actor, "as", "", "identifier of the acting admin, buyer or seller")
	fs.StringVar(&cfg.Identifier, "id", "", "identifier of the user to create, register or decide")
	fs.StringVar(&cfg.Name, "name", "", "display name")
	fs.StringVar(&cfg.Phone, "phone", "", "phone number")
	fs.StringVar(&cfg.Role, "role", "", "role to register (buyer|seller|warehouse)")
	fs.StringVar(&cfg.Site, "site", "", "site name; for import-request it overrides the sheet")
	fs.StringVar(&cfg.Location, "location", "", "location note")
	fs.StringVar(&cfg.Supplier, "supplier", "", "supplier name for import-request")
	fs.StringVar(&cfg.RequestID, "request-id", "", "purchase request id")
	fs.StringVar(&cfg.OfferID, "offer-id", "", "seller offer id for approve-offer and reject-offer")
	fs.StringVar(&cfg.DeliveryID, "delivery-id", "", "delivery id for ship and receive")
	fs.StringVar(&cfg.File, "file", "", "spreadsheet path to read or write")
	fs.StringVar(&cfg.OutboxStatus, "status", "", "outbox status filter (pending|leased|succeeded|dead)")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "max outbox rows to list or requeue")
	if err := entrypoint.ParseArgs(fs, args[1:]); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func knownCommand(name string) bool {
	for _, command := range commands {
		if command == name {
			return true
		}
	}
	return false
}

// Run executes one admin command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	logf := func(format string, args ...any) {
		fmt.Fprintf(errOut, format+"\n", args...)
	}

	switch cfg.Command {
	case CommandRequestTemplate:
		return writeRequestTemplate(cfg, out)
	case CommandHealth:
		return runHealth(ctx, cfg, out, logf)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := procurementsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open procurement store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close procurement store: %v\n", closeErr)
		}
	}()

	switch cfg.Command {
	case CommandOutboxReport:
		return runOutboxReport(ctx, store.Outbox(), cfg, out)
	case CommandOutboxRequeueDead:
		return runOutboxRequeueDead(ctx, store.Outbox(), cfg, time.Now().UTC(), out)
	}
	workflow := app.NewWorkflow(store, app.Options{
		Logf:     logf,
		Renderer: render.NewRendererFor(cfg.Locale),
	})
	return runWorkflow(ctx, workflow, cfg, out)
}

func runWorkflow(ctx context.Context, workflow *app.Workflow, cfg Config, out io.Writer) error {
	switch cfg.Command {
	case CommandCreateAdmin:
		user, err := workflow.Gate.CreateAdmin(ctx, app.AdminInput{
			Identifier: cfg.Identifier,
			Name:       cfg.Name,
			Phone:      cfg.Phone,
		})
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		return printUsers(out, cfg.JSONOutput, "Admin ready", []domain.User{user})
	case CommandRegister:
		result, err := workflow.Register(ctx, app.RegisterInput{
			Identifier: cfg.Identifier,
			Name:       cfg.Name,
			Phone:      cfg.Phone,
			Role:       cfg.Role,
			Site:       cfg.Site,
			Location:   cfg.Location,
		})
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		title := "Registered"
		if result.PendingApproval {
			title = "Registered, waiting for admin approval"
		}
		return printUsers(out, cfg.JSONOutput, title, []domain.User{result.User})
	case CommandPending:
		users, err := workflow.Gate.ListPendingUsers(ctx, cfg.Actor)
		if err != nil {
			return fmt.Errorf("list pending users: %w", err)
		}
		return printUsers(out, cfg.JSONOutput, fmt.Sprintf("Pending registrations: %d", len(users)), users)
	case CommandApprove:
		user, err := workflow.ApproveUser(ctx, cfg.Actor, cfg.Identifier)
		if err != nil {
			return fmt.Errorf("approve user: %w", err)
		}
		return printUsers(out, cfg.JSONOutput, "Approved", []domain.User{user})
	case CommandReject:
		user, err := workflow.RejectUser(ctx, cfg.Actor, cfg.Identifier)
		if err != nil {
			return fmt.Errorf("reject user: %w", err)
		}
		return printUsers(out, cfg.JSONOutput, "Rejected", []domain.User{user})
	case CommandRequests:
		requests, err := workflow.Requests.ListForBuyer(ctx, cfg.Actor)
		if err != nil {
			return fmt.Errorf("list requests: %w", err)
		}
		return printRequests(out, cfg.JSONOutput, requests)
	case CommandImportRequest:
		return importRequest(ctx, workflow, cfg, out)
	case CommandOfferTemplate:
		return writeOfferTemplate(ctx, workflow, cfg, out)
	case CommandImportOffer:
		return importOffer(ctx, workflow, cfg, out)
	case CommandOffers:
		offers, err := workflow.Offers.ListForRequest(ctx, cfg.Actor, cfg.RequestID)
		if err != nil {
			return fmt.Errorf("list offers: %w", err)
		}
		return printOffers(out, cfg.JSONOutput, offers)
	case CommandApproveOffer:
		result, err := workflow.ApproveOffer(ctx, cfg.Actor, cfg.OfferID)
		if err != nil {
			return fmt.Errorf("approve offer: %w", err)
		}
		if !result.WarehouseMatched && !cfg.JSONOutput {
			fmt.Fprintln(out, "No warehouse operator serves this site; the first to receive will be assigned.")
		}
		if err := printOffers(out, cfg.JSONOutput, []domain.SellerOffer{result.Offer}); err != nil {
			return err
		}
		return printDeliveries(out, cfg.JSONOutput, []domain.Delivery{result.Delivery})
	case CommandRejectOffer:
		offer, err := workflow.RejectOffer(ctx, cfg.Actor, cfg.OfferID)
		if err != nil {
			return fmt.Errorf("reject offer: %w", err)
		}
		return printOffers(out, cfg.JSONOutput, []domain.SellerOffer{offer})
	case CommandDeliveries:
		deliveries, err := workflow.Deliveries.ListPending(ctx, cfg.Actor)
		if err != nil {
			return fmt.Errorf("list deliveries: %w", err)
		}
		return printDeliveries(out, cfg.JSONOutput, deliveries)
	case CommandShip:
		delivery, err := workflow.ShipDelivery(ctx, cfg.Actor, cfg.DeliveryID)
		if err != nil {
			return fmt.Errorf("ship delivery: %w", err)
		}
		return printDeliveries(out, cfg.JSONOutput, []domain.Delivery{delivery})
	case CommandReceive:
		result, err := workflow.ReceiveDelivery(ctx, cfg.Actor, cfg.DeliveryID)
		if err != nil {
			return fmt.Errorf("receive delivery: %w", err)
		}
		if result.RequestCompleted && !cfg.JSONOutput {
			fmt.Fprintln(out, "Request completed.")
		}
		return printDeliveries(out, cfg.JSONOutput, []domain.Delivery{result.Delivery})
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

func writeRequestTemplate(cfg Config, out io.Writer) error {
	data, err := tabular.RequestTemplate()
	if err != nil {
		return fmt.Errorf("build request template: %w", err)
	}
	return writeFile(cfg.File, data, out)
}

func writeOfferTemplate(ctx context.Context, workflow *app.Workflow, cfg Config, out io.Writer) error {
	request, err := workflow.Offers.RequestForOffer(ctx, cfg.Actor, cfg.RequestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	data, err := tabular.OfferTemplate(request.Items)
	if err != nil {
		return fmt.Errorf("build offer template: %w", err)
	}
	return writeFile(cfg.File, data, out)
}

func importRequest(ctx context.Context, workflow *app.Workflow, cfg Config, out io.Writer) error {
	f, err := openFile(cfg.File)
	if err != nil {
		return err
	}
	defer f.Close()

	sheet, err := tabular.ParseRequest(f)
	if err != nil {
		return fmt.Errorf("read request sheet: %w", err)
	}
	site := strings.TrimSpace(cfg.Site)
	if site == "" {
		site = sheet.SiteName
	}
	request, err := workflow.SubmitRequest(ctx, cfg.Actor, app.SubmitRequestInput{
		SupplierName: cfg.Supplier,
		SiteName:     site,
		Items:        sheet.Items,
	})
	if err != nil {
		return fmt.Errorf("submit request: %w", err)
	}
	return printRequests(out, cfg.JSONOutput, []domain.PurchaseRequest{request})
}

func importOffer(ctx context.Context, workflow *app.Workflow, cfg Config, out io.Writer) error {
	f, err := openFile(cfg.File)
	if err != nil {
		return err
	}
	defer f.Close()

	items, err := tabular.ParseOffer(f)
	if err != nil {
		return fmt.Errorf("read offer sheet: %w", err)
	}
	offer, err := workflow.SubmitOffer(ctx, cfg.Actor, cfg.RequestID, items)
	if err != nil {
		return fmt.Errorf("submit offer: %w", err)
	}
	return printOffers(out, cfg.JSONOutput, []domain.SellerOffer{offer})
}

func openFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("-file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func writeFile(path string, data []byte, out io.Writer) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("-file is required")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func runHealth(ctx context.Context, cfg Config, out io.Writer, logf func(string, ...any)) error {
	addr := strings.TrimSpace(cfg.WorkerAddr)
	if addr == "" {
		return errors.New("-worker-addr is required")
	}
	conn, err := platformgrpc.DialWithHealth(ctx, addr, cfg.Timeout, logf)
	if err != nil {
		return fmt.Errorf("worker %s: %w", addr, err)
	}
	defer conn.Close()
	fmt.Fprintf(out, "Worker %s is SERVING\n", addr)
	return nil
}

type userView struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Phone      string `json:"phone,omitempty"`
	Site       string `json:"site,omitempty"`
	Approved   bool   `json:"approved"`
	Rejected   bool   `json:"rejected"`
}

type requestView struct {
	ID       string `json:"id"`
	Supplier string `json:"supplier"`
	Site     string `json:"site"`
	Status   string `json:"status"`
	Items    int    `json:"items"`
	Created  string `json:"created_at"`
}

type deliveryView struct {
	ID          string `json:"id"`
	OfferID     string `json:"offer_id"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	Status      string `json:"status"`
	Updated     string `json:"updated_at"`
}

type offerView struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	SellerID    string `json:"seller_id"`
	Status      string `json:"status"`
	Items       int    `json:"items"`
	TotalAmount string `json:"total_amount"`
}

func printUsers(out io.Writer, jsonOutput bool, title string, users []domain.User) error {
	views := make([]userView, 0, len(users))
	for _, user := range users {
		views = append(views, userView{
			Identifier: user.Identifier,
			Name:       user.Name,
			Role:       user.Role.String(),
			Phone:      user.Phone,
			Site:       user.Site,
			Approved:   user.Approved,
			Rejected:   user.Rejected(),
		})
	}
	if jsonOutput {
		return writeJSON(out, views)
	}
	fmt.Fprintln(out, title)
	for _, view := range views {
		fmt.Fprintf(out, "- %s %s role=%s approved=%t", view.Identifier, view.Name, view.Role, view.Approved)
		if view.Site != "" {
			fmt.Fprintf(out, " site=%q", view.Site)
		}
		if view.Rejected {
			fmt.Fprint(out, " rejected")
		}
		fmt.Fprintln(out)
	}
	return nil
}

func printRequests(out io.Writer, jsonOutput bool, requests []domain.PurchaseRequest) error {
	views := make([]requestView, 0, len(requests))
	for _, request := range requests {
		views = append(views, requestView{
			ID:       request.ID,
			Supplier: request.SupplierName,
			Site:     request.SiteName,
			Status:   string(request.Status),
			Items:    len(request.Items),
			Created:  request.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if jsonOutput {
		return writeJSON(out, views)
	}
	for _, view := range views {
		fmt.Fprintf(out, "- %s status=%s supplier=%q site=%q items=%d created_at=%s\n", view.ID, view.Status, view.Supplier, view.Site, view.Items, view.Created)
	}
	return nil
}

func printOffers(out io.Writer, jsonOutput bool, offers []domain.SellerOffer) error {
	views := make([]offerView, 0, len(offers))
	for _, offer := range offers {
		views = append(views, offerView{
			ID:          offer.ID,
			RequestID:   offer.RequestID,
			SellerID:    offer.SellerID,
			Status:      string(offer.Status),
			Items:       len(offer.Items),
			TotalAmount: offer.TotalAmount.StringFixed(domain.MoneyScale),
		})
	}
	if jsonOutput {
		return writeJSON(out, views)
	}
	for _, view := range views {
		fmt.Fprintf(out, "Offer %s on request %s: seller=%s status=%s items=%d total=%s\n", view.ID, view.RequestID, view.SellerID, view.Status, view.Items, view.TotalAmount)
	}
	return nil
}

func printDeliveries(out io.Writer, jsonOutput bool, deliveries []domain.Delivery) error {
	views := make([]deliveryView, 0, len(deliveries))
	for _, delivery := range deliveries {
		views = append(views, deliveryView{
			ID:          delivery.ID,
			OfferID:     delivery.OfferID,
			WarehouseID: delivery.WarehouseID,
			Status:      string(delivery.Status),
			Updated:     delivery.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if jsonOutput {
		return writeJSON(out, views)
	}
	for _, view := range views {
		fmt.Fprintf(out, "Delivery %s for offer %s: status=%s", view.ID, view.OfferID, view.Status)
		if view.WarehouseID != "" {
			fmt.Fprintf(out, " warehouse=%s", view.WarehouseID)
		}
		fmt.Fprintln(out)
	}
	return nil
}

type outboxReport struct {
	Mode    string                      `json:"mode"`
	Status  string                      `json:"status,omitempty"`
	Limit   int                         `json:"limit"`
	Summary notifystorage.OutboxSummary `json:"summary"`
	Rows    []outboxRow                 `json:"rows"`
}

type outboxRow struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	DedupeKey     string `json:"dedupe_key"`
	Status        string `json:"status"`
	AttemptCount  int    `json:"attempt_count"`
	NextAttemptAt string `json:"next_attempt_at"`
	LastError     string `json:"last_error,omitempty"`
}

type outboxRequeueDeadResult struct {
	Mode     string `json:"mode"`
	Limit    int    `json:"limit"`
	Requeued int    `json:"requeued"`
}

func runOutboxReport(ctx context.Context, inspector notifystorage.OutboxMaintenanceStore, cfg Config, out io.Writer) error {
	if inspector == nil {
		return fmt.Errorf("outbox inspector is not configured")
	}
	if cfg.Limit <= 0 {
		return fmt.Errorf("-limit must be > 0")
	}
	status := notifystorage.OutboxStatus(strings.TrimSpace(cfg.OutboxStatus))

	summary, err := inspector.SummarizeOutbox(ctx)
	if err != nil {
		return fmt.Errorf("read outbox summary: %w", err)
	}
	events, err := inspector.ListOutboxEvents(ctx, status, cfg.Limit)
	if err != nil {
		return fmt.Errorf("list outbox events: %w", err)
	}
	rows := make([]outboxRow, 0, len(events))
	for _, event := range events {
		rows = append(rows, outboxRow{
			ID:            event.ID,
			EventType:     event.EventType,
			DedupeKey:     event.DedupeKey,
			Status:        string(event.Status),
			AttemptCount:  event.AttemptCount,
			NextAttemptAt: event.NextAttemptAt.UTC().Format(time.RFC3339),
			LastError:     event.LastError,
		})
	}

	if cfg.JSONOutput {
		return writeJSON(out, outboxReport{
			Mode:    CommandOutboxReport,
			Status:  string(status),
			Limit:   cfg.Limit,
			Summary: summary,
			Rows:    rows,
		})
	}

	statuses := make([]string, 0, len(summary.Counts))
	for s := range summary.Counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, summary.Counts[notifystorage.OutboxStatus(s)]))
	}
	fmt.Fprintf(out, "Outbox summary: %s\n", strings.Join(parts, " "))
	if summary.OldestPendingAt == nil {
		fmt.Fprintln(out, "Oldest pending event: none")
	} else {
		fmt.Fprintf(out, "Oldest pending event: %s next_attempt_at=%s\n", summary.OldestPendingID, summary.OldestPendingAt.UTC().Format(time.RFC3339))
	}
	if status == "" {
		fmt.Fprintf(out, "Rows (all statuses, limit=%d):\n", cfg.Limit)
	} else {
		fmt.Fprintf(out, "Rows (status=%s, limit=%d):\n", status, cfg.Limit)
	}
	for _, row := range rows {
		fmt.Fprintf(out, "- %s status=%s attempts=%d next_attempt_at=%s type=%s\n", row.ID, row.Status, row.AttemptCount, row.NextAttemptAt, row.EventType)
		if strings.TrimSpace(row.LastError) != "" {
			fmt.Fprintf(out, "  last_error=%s\n", row.LastError)
		}
	}
	return nil
}

func runOutboxRequeueDead(ctx context.Context, requeuer notifystorage.OutboxMaintenanceStore, cfg Config, now time.Time, out io.Writer) error {
	if requeuer == nil {
		return fmt.Errorf("outbox requeuer is not configured")
	}
	if cfg.Limit <= 0 {
		return fmt.Errorf("-limit must be > 0")
	}
	requeued, err := requeuer.RequeueDeadOutboxEvents(ctx, cfg.Limit, now)
	if err != nil {
		return fmt.Errorf("requeue dead outbox events: %w", err)
	}
	if cfg.JSONOutput {
		return writeJSON(out, outboxRequeueDeadResult{
			Mode:     CommandOutboxRequeueDead,
			Limit:    cfg.Limit,
			Requeued: requeued,
		})
	}
	fmt.Fprintf(out, "Requeued dead outbox events: %d (limit=%d)\n", requeued, cfg.Limit)
	return nil
}

func writeJSON(out io.Writer, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}
