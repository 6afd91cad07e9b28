// Package gas implements the gas accounting of the execution adapter.
//
// A meter owns a monotonically decreasing balance bounded by the maximum
// gas amount of the transaction. Every execution step charges the meter and
// the first charge that cannot be covered terminates the execution with an
// out-of-gas status. System transactions run under an unmetered meter.
package gas

import (
	"go.dedis.ch/driva/core/vmstatus"
)

// Meter is the interface charged by every execution step.
type Meter interface {
	// ChargeIntrinsic charges the flat cost of processing a transaction of
	// the given byte size, before any user code executes.
	ChargeIntrinsic(txnSize uint64) error

	// Charge debits the balance by the given number of units. It returns an
	// out-of-gas status when the balance cannot cover the charge.
	Charge(units uint64) error

	// Balance returns the remaining balance in units.
	Balance() uint64
}

// meter is a budgeted gas meter following a price schedule.
//
// - implements gas.Meter
type meter struct {
	schedule Schedule
	balance  uint64
}

// NewMeter creates a meter with the given budget. The meter is owned by a
// single execution attempt and must be recreated if the attempt is retried.
func NewMeter(schedule Schedule, maxGasAmount uint64) Meter {
	return &meter{
		schedule: schedule,
		balance:  maxGasAmount,
	}
}

// ChargeIntrinsic implements gas.Meter. It charges the intrinsic cost
// derived from the transaction size.
func (m *meter) ChargeIntrinsic(txnSize uint64) error {
	return m.Charge(m.schedule.IntrinsicCost(txnSize))
}

// Charge implements gas.Meter. It debits the balance, or drains it and
// returns an out-of-gas status when the charge exceeds it.
func (m *meter) Charge(units uint64) error {
	if units > m.balance {
		m.balance = 0

		return vmstatus.New(vmstatus.CodeOutOfGas)
	}

	m.balance -= units

	return nil
}

// Balance implements gas.Meter.
func (m *meter) Balance() uint64 {
	return m.balance
}

// Unmetered is a meter that never charges. It is used for privileged system
// transactions which are not subject to gas accounting.
//
// - implements gas.Meter
type Unmetered struct{}

// ChargeIntrinsic implements gas.Meter. It does nothing.
func (Unmetered) ChargeIntrinsic(uint64) error {
	return nil
}

// Charge implements gas.Meter. It does nothing.
func (Unmetered) Charge(uint64) error {
	return nil
}

// Balance implements gas.Meter. It always returns zero so that the gas used
// of a system transaction resolves to zero.
func (Unmetered) Balance() uint64 {
	return 0
}

// Used computes the gas consumed by an attempt with the given budget and
// remaining balance. A balance above the budget indicates a bookkeeping bug
// upstream and is reported as an invariant violation instead of wrapping
// around.
func Used(maxGasAmount, balance uint64) (uint64, error) {
	if balance > maxGasAmount {
		return 0, vmstatus.Newf(vmstatus.CodeNegativeGasUsage,
			"balance %d exceeds budget %d", balance, maxGasAmount)
	}

	return maxGasAmount - balance, nil
}
