// Package gateway is the public surface of the template registry: it creates
// instances of registered templates and forwards calls to them, authorizing
// each action either by a fee or by a signature from a SIGNER role holder.
//
// Every mutating method runs as one transaction: guards are checked, effects
// are applied to a private copy of the world, and the copy replaces the
// committed state only if every step succeeds. Records are delivered to the
// configured sinks after commit, in commit order.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/host"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/metrics"
	"github.com/ruteri/template-gateway/state"
	"github.com/ruteri/template-gateway/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultActionBudget is the compute budget available to the forwarded calls of one action.
const DefaultActionBudget uint64 = 30_000_000

// DefaultAddress is the gateway identity used when none is configured.
var DefaultAddress = common.HexToAddress("0x000000000000000000000000000000000000a7e0")

// Config configures a Gateway.
type Config struct {
	// Address is the gateway's own identity: the creator of every instance,
	// the caller of every forwarded call, and the holder of collected fees.
	Address common.Address

	// ActionBudget caps the compute budget of one action.
	ActionBudget uint64

	Log      *slog.Logger
	Sinks    []interfaces.RecordSink
	Metrics  *metrics.GatewayMetrics
	Tracer   trace.Tracer
	Verifier *cryptoutils.Verifier
}

// Gateway coordinates the registry, role authority, deployer and dispatcher.
type Gateway struct {
	// mu orders whole actions, including record delivery.
	mu sync.Mutex

	address  common.Address
	budget   uint64
	store    *state.Store
	host     *host.Host
	verifier *cryptoutils.Verifier
	log      *slog.Logger
	sinks    []interfaces.RecordSink
	metrics  *metrics.GatewayMetrics
	tracer   trace.Tracer
}

// New creates a gateway over store, executing template code from h.
func New(cfg Config, store *state.Store, h *host.Host) *Gateway {
	g := &Gateway{
		address:  cfg.Address,
		budget:   cfg.ActionBudget,
		store:    store,
		host:     h,
		verifier: cfg.Verifier,
		log:      cfg.Log,
		sinks:    cfg.Sinks,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
	if g.address == (common.Address{}) {
		g.address = DefaultAddress
	}
	if g.budget == 0 {
		g.budget = DefaultActionBudget
	}
	if g.verifier == nil {
		g.verifier = cryptoutils.NewVerifier(cryptoutils.DefaultRecoveryTTL)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.tracer == nil {
		g.tracer = noop.NewTracerProvider().Tracer("gateway")
	}
	return g
}

// Address returns the gateway identity.
func (g *Gateway) Address() common.Address {
	return g.address
}

// actionTx is the per-action context handed to entry point bodies.
type actionTx struct {
	w         *state.World
	msg       interfaces.Msg
	remaining uint64
	used      uint64
	records   []interfaces.Record
	ret       []byte
	instance  common.Address
}

func (a *actionTx) emit(records ...interfaces.Record) {
	a.records = append(a.records, records...)
}

func (a *actionTx) consume(units uint64) {
	a.used += units
	a.remaining -= min(units, a.remaining)
}

// execute runs fn as one transaction. Payment attached to a payable action is
// moved from the caller's balance to the gateway before fn runs; non-payable
// actions reject payment.
func (g *Gateway) execute(ctx context.Context, action string, msg interfaces.Msg, payable bool, fn func(a *actionTx) error) (*interfaces.Receipt, error) {
	ctx, span := g.tracer.Start(ctx, "gateway."+action, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrAction, action),
		attribute.String(tracing.AttrCaller, msg.From.Hex()),
	)

	g.mu.Lock()
	defer g.mu.Unlock()

	var a *actionTx
	seq, err := g.store.RunInTransaction(ctx, func(tx *state.World) error {
		a = &actionTx{w: tx, msg: msg, remaining: g.budget}

		value := msg.Amount()
		if value.Sign() < 0 {
			return &interfaces.PaymentError{Kind: interfaces.InvalidAmount}
		}
		if value.Sign() > 0 {
			if !payable {
				return &interfaces.PaymentError{Kind: interfaces.Unexpected, Attached: value.String()}
			}
			if err := tx.Transfer(msg.From, g.address, value); err != nil {
				if errors.Is(err, state.ErrInsufficientBalance) {
					return &interfaces.PaymentError{
						Kind:     interfaces.Insufficient,
						Attached: value.String(),
						Balance:  tx.BalanceOf(msg.From).String(),
					}
				}
				return err
			}
		}
		return fn(a)
	})
	if err != nil {
		outcome := metrics.OutcomeRejected
		var revert *interfaces.RevertError
		if errors.As(err, &revert) {
			outcome = metrics.OutcomeReverted
		}
		g.metrics.ObserveAction(action, outcome, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Debug("Action rejected",
			slog.String("action", action),
			slog.String("caller", msg.From.Hex()),
			"err", err)
		return nil, err
	}

	for i := range a.records {
		a.records[i].Seq = seq
		a.records[i].Index = i
	}
	receipt := &interfaces.Receipt{
		Seq:        seq,
		Return:     a.ret,
		Instance:   a.instance,
		BudgetUsed: a.used,
		Records:    a.records,
	}

	span.SetAttributes(
		attribute.Int64(tracing.AttrSeq, int64(seq)),
		attribute.Int64(tracing.AttrBudget, int64(a.used)),
	)
	span.SetStatus(codes.Ok, "")
	g.metrics.ObserveAction(action, metrics.OutcomeCommitted, a.used)
	g.metrics.ObserveRecords(a.records)
	g.log.Info("Action committed",
		slog.String("action", action),
		slog.String("caller", msg.From.Hex()),
		slog.Uint64("seq", seq),
		slog.Int("records", len(a.records)))

	g.deliver(ctx, receipt.Records)
	return receipt, nil
}

// deliver hands committed records to every sink. The action is already
// committed, so sink failures are only logged.
func (g *Gateway) deliver(ctx context.Context, records []interfaces.Record) {
	if len(records) == 0 {
		return
	}
	for _, sink := range g.sinks {
		if err := sink.Append(ctx, records); err != nil {
			g.log.Error("Failed to deliver records", "err", err, slog.Int("records", len(records)))
		}
	}
}

// amountOrZero treats a nil fee as zero.
func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
