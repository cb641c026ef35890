package payments

import (
	"context"
	"errors"
	"sync"
)

// ResultState is the authoritative state reported by the execution service.
type ResultState string

const (
	ResultPending ResultState = "pending"
	ResultSettled ResultState = "settled"
	ResultFailed  ResultState = "failed"
)

// Result is the answer of Executor.Query.
type Result struct {
	State  ResultState
	Amount int64
	Reason string
}

// Request is handed to the execution service on submit.
type Request struct {
	Reference   string
	AccountID   string
	Amount      int64
	Currency    string
	Method      string
	Description string
}

// Executor is the external payment execution service.
type Executor interface {
	Execute(ctx context.Context, req Request) error
	Query(ctx context.Context, reference string) (Result, error)
}

// ErrUnknownReference is returned by executors for references never executed.
var ErrUnknownReference = errors.New("unknown payment reference")

// FundsSource reports an account's spendable balance.
type FundsSource interface {
	Available(ctx context.Context, ownerID string) (int64, error)
}

// SimulatedExecutor stands in for the execution service in development. A
// payment stays pending for PendingPolls queries, then settles when the
// account can cover it and fails with "insufficient funds" otherwise.
type SimulatedExecutor struct {
	PendingPolls int

	funds    FundsSource
	mu       sync.Mutex
	requests map[string]*simulated
}

type simulated struct {
	req   Request
	polls int
}

// NewSimulatedExecutor builds a simulated executor. funds may be nil, in which
// case every payment settles.
func NewSimulatedExecutor(funds FundsSource, pendingPolls int) *SimulatedExecutor {
	return &SimulatedExecutor{PendingPolls: pendingPolls, funds: funds, requests: make(map[string]*simulated)}
}

// Execute records the request.
func (e *SimulatedExecutor) Execute(_ context.Context, req Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.requests[req.Reference]; !ok {
		e.requests[req.Reference] = &simulated{req: req}
	}
	return nil
}

// Query reports the simulated state of reference.
func (e *SimulatedExecutor) Query(ctx context.Context, reference string) (Result, error) {
	e.mu.Lock()
	sim, ok := e.requests[reference]
	var (
		req   Request
		polls int
	)
	if ok {
		sim.polls++
		req, polls = sim.req, sim.polls
	}
	e.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownReference
	}
	if polls <= e.PendingPolls {
		return Result{State: ResultPending}, nil
	}
	if e.funds != nil {
		available, err := e.funds.Available(ctx, req.AccountID)
		if err != nil {
			return Result{}, err
		}
		if available < req.Amount {
			return Result{State: ResultFailed, Reason: "insufficient funds"}, nil
		}
	}
	return Result{State: ResultSettled, Amount: req.Amount}, nil
}
