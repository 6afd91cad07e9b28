// Package adapter implements the transaction execution adapter sitting
// between the ordering layer and the bytecode virtual machine.
//
// The adapter composes the admission prologue, the payload execution, the
// epilogue bookkeeping and the failure cleanup into the per-transaction and
// per-block execution protocol. It is fully deterministic: for the same
// inputs in the same order, every node produces byte-identical outputs.
//
// The adapter itself is logically single-threaded per transaction: one
// session, one gas meter, strictly sequential steps. An optional parallel
// batch executor can be plugged in; its results must match the sequential
// semantics implemented here.
package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/driva"
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
)

// defines prometheus metrics
var (
	promGasUsed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "driva_adapter_gas_used",
		Help:    "gas units consumed per user transaction",
		Buckets: prometheus.ExponentialBuckets(100, 4, 10),
	})

	promSystemTxs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driva_adapter_system_transactions_total",
		Help: "total number of system transactions executed",
	})

	promUserTxs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driva_adapter_user_transactions_total",
		Help: "total number of user transactions executed",
	}, []string{"result"})

	promBlockTxs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "driva_adapter_block_transactions",
		Help:    "number of transactions per executed block",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20, 30, 50, 100},
	})
)

func init() {
	driva.PromCollectors = append(driva.PromCollectors,
		promGasUsed, promSystemTxs, promUserTxs, promBlockTxs)
}

// BatchExecutor is the contract of the parallel execution collaborator. For
// byte-identical inputs it must produce the outputs the sequential strategy
// would, for every transaction, in block order.
type BatchExecutor interface {
	ExecuteBlock(items []txn.Item, state store.Readable,
		concurrency int) ([]execution.Output, error)
}

// Adapter is the transaction orchestrator.
type Adapter struct {
	vm       vm.Machine
	parallel BatchExecutor
	schedule *gas.Schedule

	concurrency  Once[int]
	proofReaders Once[int]

	logger zerolog.Logger
}

// AdapterOption is the type of options to create an adapter.
type AdapterOption func(*Adapter)

// WithParallelExecutor is an option to plug the parallel execution strategy
// used when the concurrency level is above one.
func WithParallelExecutor(exec BatchExecutor) AdapterOption {
	return func(a *Adapter) {
		a.parallel = exec
	}
}

// WithGasSchedule is an option to pin the gas schedule instead of resolving
// it from the on-chain configuration, for contexts where no configuration
// exists yet.
func WithGasSchedule(schedule gas.Schedule) AdapterOption {
	return func(a *Adapter) {
		sch := schedule
		a.schedule = &sch
	}
}

// New creates an adapter around the virtual machine.
func New(machine vm.Machine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		vm: machine,
		logger: driva.Logger.With().
			Str("adapter", xid.New().String()).Logger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// discardStatus pairs a discarded status with the empty output it implies.
func discardStatus(status *vmstatus.Status) (*vmstatus.Status, execution.Output) {
	return status, execution.NewDiscardOutput(status.GetCode())
}
