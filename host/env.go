package host

import (
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
)

// env buffers storage writes until the call returns successfully.
type env struct {
	world     *state.World
	self      common.Address
	caller    common.Address
	value     *big.Int
	remaining uint64
	costs     Costs

	writes map[string][]byte
	keys   []string
}

var _ interfaces.Env = (*env)(nil)

func (e *env) Self() common.Address   { return e.self }
func (e *env) Caller() common.Address { return e.caller }
func (e *env) Value() *big.Int        { return new(big.Int).Set(e.value) }
func (e *env) Remaining() uint64      { return e.remaining }

func (e *env) Consume(units uint64) error {
	if units > e.remaining {
		e.remaining = 0
		return interfaces.ErrBudgetExhausted
	}
	e.remaining -= units
	return nil
}

func (e *env) Get(key []byte) ([]byte, error) {
	if err := e.Consume(e.costs.Read); err != nil {
		return nil, err
	}
	if v, ok := e.writes[string(key)]; ok {
		return slices.Clone(v), nil
	}
	return e.world.StorageGet(e.self, key), nil
}

func (e *env) Set(key, value []byte) error {
	if err := e.Consume(e.costs.Write); err != nil {
		return err
	}
	k := string(key)
	if _, seen := e.writes[k]; !seen {
		e.keys = append(e.keys, k)
	}
	e.writes[k] = slices.Clone(value)
	return nil
}
