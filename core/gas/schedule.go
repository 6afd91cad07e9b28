// This file contains the versioned price schedule and its serialization. The
// schedule lives on chain and is fetched once per transaction attempt; it
// can also be loaded from a YAML file for tooling and genesis.

package gas

import (
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Schedule is the versioned price table used by the meters and the
// admission checks.
type Schedule struct {
	Version uint64 `yaml:"version"`

	// IntrinsicBase is the flat cost charged to every transaction.
	IntrinsicBase uint64 `yaml:"intrinsic_base"`

	// IntrinsicPerByte is the cost charged per byte of the transaction.
	IntrinsicPerByte uint64 `yaml:"intrinsic_per_byte"`

	// MinTransactionGas is the floor of the intrinsic cost.
	MinTransactionGas uint64 `yaml:"min_transaction_gas"`

	// MaxTransactionSize is the maximum admitted transaction size in bytes.
	MaxTransactionSize uint64 `yaml:"max_transaction_size"`

	// MaxGasUnits bounds the budget a transaction may declare.
	MaxGasUnits uint64 `yaml:"max_gas_units"`

	// MinPricePerUnit and MaxPricePerUnit bound the declared gas unit price.
	MinPricePerUnit uint64 `yaml:"min_price_per_unit"`
	MaxPricePerUnit uint64 `yaml:"max_price_per_unit"`
}

// DefaultSchedule returns the schedule used when no on-chain configuration
// exists yet, typically at genesis.
func DefaultSchedule() Schedule {
	return Schedule{
		Version:            1,
		IntrinsicBase:      600,
		IntrinsicPerByte:   8,
		MinTransactionGas:  600,
		MaxTransactionSize: 4096,
		MaxGasUnits:        2_000_000,
		MinPricePerUnit:    0,
		MaxPricePerUnit:    10_000,
	}
}

// IntrinsicCost returns the intrinsic cost of a transaction of the given
// byte size.
func (s Schedule) IntrinsicCost(txnSize uint64) uint64 {
	cost := s.IntrinsicBase + s.IntrinsicPerByte*txnSize
	if cost < s.MinTransactionGas {
		cost = s.MinTransactionGas
	}

	return cost
}

// Marshal returns the serialized schedule, as stored on chain.
func (s Schedule) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal schedule: %v", err)
	}

	return data, nil
}

// UnmarshalSchedule reads a schedule from its serialized form.
func UnmarshalSchedule(data []byte) (Schedule, error) {
	var s Schedule

	err := yaml.Unmarshal(data, &s)
	if err != nil {
		return s, xerrors.Errorf("failed to unmarshal schedule: %v", err)
	}

	return s, nil
}

// LoadSchedule reads a schedule from a YAML file.
func LoadSchedule(path string) (Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, xerrors.Errorf("failed to read schedule: %v", err)
	}

	s, err := UnmarshalSchedule(data)
	if err != nil {
		return Schedule{}, xerrors.Errorf("failed to decode '%s': %v", path, err)
	}

	return s, nil
}
