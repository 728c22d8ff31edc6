package txn

import (
	"context"
	"errors"
	"fmt"
	"math"

	"rose-market-client/core/model"
	"rose-market-client/core/refresh"
	"rose-market-client/core/session"
	"rose-market-client/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

type Class int8

const (
	ClassStandard Class = iota
	ClassPurchase
)

func (c Class) String() string {
	if c == ClassPurchase {
		return "purchase"
	}
	return "standard"
}

// GasPolicy holds the safety margin applied to estimates per action class.
type GasPolicy struct {
	Standard float64
	Purchase float64
}

func DefaultGasPolicy() GasPolicy {
	return GasPolicy{Standard: 1.1, Purchase: 1.4}
}

func (p GasPolicy) Factor(c Class) float64 {
	if c == ClassPurchase {
		return p.Purchase
	}
	return p.Standard
}

// Limit returns ceil(estimate * factor). Factors are applied in basis points
// so that 1.1 does not round 100000 up to 110001.
func (p GasPolicy) Limit(c Class, estimate uint64) uint64 {
	factor := p.Factor(c)
	if factor < 1 {
		factor = 1
	}
	bps := uint64(math.Round(factor * 10000))
	return (estimate*bps + 9999) / 10000
}

// Action is one mutating ledger call plus its local preconditions.
type Action struct {
	Name     string
	Class    Class
	Call     model.Call
	Validate func(ctx context.Context, from model.Identity) error
}

// Confirmer is the user gate between validation and submission. Returning
// false cancels the action before anything reaches the chain.
type Confirmer interface {
	Confirm(ctx context.Context, from model.Identity, action Action) (bool, error)
}

type ConfirmFunc func(ctx context.Context, from model.Identity, action Action) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, from model.Identity, action Action) (bool, error) {
	return f(ctx, from, action)
}

// AutoConfirm accepts every action.
var AutoConfirm = ConfirmFunc(func(context.Context, model.Identity, Action) (bool, error) {
	return true, nil
})

type Status int8

const (
	Succeeded Status = iota + 1
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "pending"
}

// Outcome is the terminal result of Execute. Err is a *model.Error unless
// the action succeeded.
type Outcome struct {
	ID       uuid.UUID
	Action   string
	Status   Status
	Err      error
	Receipt  *model.Receipt
	Estimate uint64
	GasLimit uint64
	Tick     uint64
}

func (o Outcome) Kind() model.ErrorKind {
	return model.KindOf(o.Err)
}

type SessionState interface {
	Current() session.State
}

type Chain interface {
	Estimate(ctx context.Context, from model.Identity, call model.Call) (uint64, error)
	Submit(ctx context.Context, from model.Identity, network model.Network, call model.Call, gasLimit uint64) (*model.Receipt, error)
}

type Orchestrator struct {
	session   SessionState
	chain     Chain
	bus       *refresh.Bus
	policy    GasPolicy
	confirmer Confirmer
	metrics   *metrics.Metrics

	submit *semaphore.Weighted
}

type Option func(*Orchestrator)

func WithGasPolicy(p GasPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.confirmer = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(s SessionState, c Chain, bus *refresh.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session:   s,
		chain:     c,
		bus:       bus,
		policy:    DefaultGasPolicy(),
		confirmer: AutoConfirm,
		submit:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Policy() GasPolicy {
	return o.policy
}

// Execute runs action to a terminal outcome. Only one action is between
// confirmation and receipt at any time; later callers queue on ctx.
func (o *Orchestrator) Execute(ctx context.Context, action Action) (out Outcome) {
	out = Outcome{ID: uuid.New(), Action: action.Name}
	log := logrus.WithFields(logrus.Fields{"action": action.Name, "id": out.ID})
	defer func() {
		o.metrics.ObserveAction(action.Name, out.Status.String())
	}()

	fail := func(err error) Outcome {
		out.Err = err
		out.Status = Failed
		if model.KindOf(err) == model.KindCancelled {
			out.Status = Cancelled
		}
		return out
	}

	st := o.session.Current()
	if !st.Connected() {
		log.Warnf("rejected: %v", model.ErrNotConnected)
		return fail(model.Validationf(action.Name, model.ErrNotConnected, "no active identity"))
	}
	from := st.Identity
	log = log.WithField("from", from.Hex())

	if action.Validate != nil {
		if err := action.Validate(ctx, from); err != nil {
			if model.KindOf(err) == model.KindUnknown {
				err = model.NewError(model.KindValidation, action.Name, err)
			}
			log.Warnf("rejected: %v", err)
			return fail(err)
		}
	}

	if err := o.submit.Acquire(ctx, 1); err != nil {
		log.Infof("abandoned while queued: %v", err)
		return fail(model.NewError(model.KindCancelled, action.Name, err))
	}
	defer o.submit.Release(1)

	// the identity may have been swapped while this action was queued
	if now := o.session.Current(); !now.Connected() || now.Epoch != st.Epoch {
		log.Warnf("session changed while queued")
		return fail(model.NewError(model.KindDisconnected, action.Name, fmt.Errorf("session changed while queued")))
	}

	ok, err := o.confirmer.Confirm(ctx, from, action)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fail(model.NewError(model.KindCancelled, action.Name, err))
		}
		if model.KindOf(err) == model.KindUnknown {
			err = model.NewError(model.KindRpc, action.Name, err)
		}
		return fail(err)
	}
	if !ok {
		log.Infof("declined at confirmation")
		return fail(model.NewError(model.KindCancelled, action.Name, nil))
	}

	out.Estimate, err = o.chain.Estimate(ctx, from, action.Call)
	if err != nil {
		log.Warnf("estimate err: %v", err)
		return fail(err)
	}
	out.GasLimit = o.policy.Limit(action.Class, out.Estimate)

	out.Receipt, err = o.chain.Submit(ctx, from, st.Network, action.Call, out.GasLimit)
	if err != nil {
		log.Errorf("submit err: %v", err)
		return fail(err)
	}

	out.Status = Succeeded
	out.Tick = o.bus.Advance()
	o.metrics.SetTick(out.Tick)
	log.WithFields(logrus.Fields{
		"tx":       out.Receipt.TxHash.Hex(),
		"gas_used": out.Receipt.GasUsed,
		"gas":      out.GasLimit,
		"tick":     out.Tick,
	}).Infof("succeeded")
	return out
}
