// Package transport serves the pipeline over NATS request/reply for
// internal CRM services that talk messaging instead of HTTP.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hearcrm/assistant-svc/internal/assist"
	"github.com/hearcrm/assistant-svc/internal/config"
	"github.com/hearcrm/assistant-svc/internal/planner"
	"github.com/hearcrm/assistant-svc/internal/refiner"
	"github.com/hearcrm/assistant-svc/internal/session"
	"github.com/hearcrm/assistant-svc/internal/tenancy"
)

// classifyMessage and planMessage mirror the HTTP request bodies; NATS
// callers are internal, so the tenant id in the payload is trusted against
// the declared tenant set rather than an API key.
type classifyMessage struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
}

type planMessage struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Intent   *assist.Intent `json:"intent"`
}

// NATSTransport subscribes the pipeline stages to queue groups so multiple
// service instances share the load.
type NATSTransport struct {
	conn     *nats.Conn
	cfg      config.NATSConfig
	refiner  *refiner.Refiner
	planner  *planner.Planner
	sessions session.Store
	tenants  *tenancy.Manager
	useModel bool
	logger   *log.Logger

	subs []*nats.Subscription
}

func NewNATSTransport(
	cfg config.NATSConfig,
	rf *refiner.Refiner,
	pl *planner.Planner,
	sessions session.Store,
	tenants *tenancy.Manager,
	useModel bool,
) (*NATSTransport, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("assistant-svc"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger := log.New(log.Writer(), "[NATS] ", log.LstdFlags)
	logger.Printf("Connected to NATS server: %s", cfg.URL)

	return &NATSTransport{
		conn:     conn,
		cfg:      cfg,
		refiner:  rf,
		planner:  pl,
		sessions: sessions,
		tenants:  tenants,
		useModel: useModel,
		logger:   logger,
	}, nil
}

// Start subscribes both subjects. Handlers reply on the message's reply
// subject with the same JSON envelopes the HTTP API returns.
func (nt *NATSTransport) Start() error {
	classifySub, err := nt.conn.QueueSubscribe(nt.cfg.ClassifySubject, nt.cfg.QueueGroup, nt.handleClassify)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.cfg.ClassifySubject, err)
	}
	planSub, err := nt.conn.QueueSubscribe(nt.cfg.PlanSubject, nt.cfg.QueueGroup, nt.handlePlan)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.cfg.PlanSubject, err)
	}
	nt.subs = append(nt.subs, classifySub, planSub)

	nt.logger.Printf("Subscribed to %s and %s (queue %s)",
		nt.cfg.ClassifySubject, nt.cfg.PlanSubject, nt.cfg.QueueGroup)
	return nil
}

func (nt *NATSTransport) handleClassify(msg *nats.Msg) {
	var req classifyMessage
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		nt.respond(msg, assist.RefinerResult{
			Status:       assist.RefinerError,
			ErrorMessage: "invalid request format",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := nt.tenants.LoadTenant(req.TenantID); err != nil {
		nt.respond(msg, assist.RefinerResult{
			Status:       assist.RefinerError,
			ErrorMessage: "unknown tenant",
		})
		return
	}

	convCtx, err := nt.sessions.Load(ctx, req.TenantID, req.UserID)
	if err != nil {
		nt.logger.Printf("session load failed for %s:%s: %v", req.TenantID, req.UserID, err)
		convCtx = nil
	}

	result := nt.refiner.Classify(ctx, refiner.ClassifyRequest{
		Message:  req.Message,
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Context:  convCtx,
	})

	if convCtx != nil {
		convCtx.AppendMessage("user", req.Message)
		if result.Intent != nil && (result.Intent.Type == assist.IntentSlotFill ||
			result.Intent.Type == assist.IntentCancellation) {
			convCtx.ClearPendingSlot()
		}
		if err := nt.sessions.Save(ctx, convCtx); err != nil {
			nt.logger.Printf("session save failed for %s:%s: %v", req.TenantID, req.UserID, err)
		}
	}

	nt.respond(msg, result)
}

func (nt *NATSTransport) handlePlan(msg *nats.Msg) {
	var req planMessage
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		nt.respond(msg, assist.PlannerResult{
			Status:       assist.PlannerError,
			ErrorMessage: "invalid request format",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := nt.tenants.LoadTenant(req.TenantID); err != nil {
		nt.respond(msg, assist.PlannerResult{
			Status:       assist.PlannerTenantViolation,
			ErrorMessage: "unknown tenant",
		})
		return
	}

	result := nt.planner.Plan(ctx, planner.PlanRequest{
		Intent:          req.Intent,
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		UserPermissions: nt.tenants.PermissionsFor(req.TenantID, req.UserID),
		UseModel:        nt.useModel,
	})

	if result.Plan != nil && len(result.Plan.MissingParameters) > 0 {
		if convCtx, err := nt.sessions.Load(ctx, req.TenantID, req.UserID); err == nil {
			convCtx.SetPendingSlot(result.Plan.MissingParameters[0])
			if err := nt.sessions.Save(ctx, convCtx); err != nil {
				nt.logger.Printf("session save failed for %s:%s: %v", req.TenantID, req.UserID, err)
			}
		}
	}

	nt.respond(msg, result)
}

func (nt *NATSTransport) respond(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		nt.logger.Printf("failed to marshal response: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		nt.logger.Printf("failed to send response: %v", err)
	}
}

// Close drains subscriptions and closes the connection.
func (nt *NATSTransport) Close() error {
	for _, sub := range nt.subs {
		if err := sub.Drain(); err != nil {
			nt.logger.Printf("drain failed: %v", err)
		}
	}
	if nt.conn != nil {
		nt.conn.Close()
		nt.logger.Println("NATS connection closed")
	}
	return nil
}
