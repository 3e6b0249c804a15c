// Package host keeps deployed template code and executes forwarded calls
// against instances held in a state.World.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
)

// Costs are the budget units charged by Invoke.
type Costs struct {
	// Call is charged once per invocation.
	Call uint64
	// DataByte is charged per byte of call data.
	DataByte uint64
	// Read and Write are charged per storage access.
	Read  uint64
	Write uint64
}

// DefaultCosts roughly follows the relative prices of the EVM.
var DefaultCosts = Costs{
	Call:     2_600,
	DataByte: 16,
	Read:     2_100,
	Write:    20_000,
}

// DefaultDeployer is the account implementations are deployed from when none is given.
var DefaultDeployer = common.HexToAddress("0x00000000000000000000000000000000000de910")

// Host holds immutable template code keyed by implementation address. Deploying
// code is outside of any transaction; instances and their storage live in the world.
type Host struct {
	mu       sync.RWMutex
	deployer common.Address
	nonce    uint64
	code     map[common.Address]interfaces.Template
	order    []common.Address
	costs    Costs
	log      *slog.Logger
}

// New creates an empty host. Implementation addresses are derived from deployer
// and a deployment counter, so the same templates deployed in the same order
// always land on the same addresses.
func New(deployer common.Address, costs Costs, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		deployer: deployer,
		code:     make(map[common.Address]interfaces.Template),
		costs:    costs,
		log:      log,
	}
}

// Deploy installs template code and returns its implementation address.
func (h *Host) Deploy(t interfaces.Template) common.Address {
	h.mu.Lock()
	defer h.mu.Unlock()

	addr := crypto.CreateAddress(h.deployer, h.nonce)
	h.nonce++
	h.code[addr] = t
	h.order = append(h.order, addr)

	h.log.Debug("Deployed template code",
		slog.String("implementation", addr.Hex()),
		slog.String("name", t.Name().String()),
		slog.String("version", t.Version().String()))
	return addr
}

// Template returns the code deployed at addr.
func (h *Host) Template(addr common.Address) (interfaces.Template, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.code[addr]
	return t, ok
}

// Deployed lists implementation addresses in deployment order.
func (h *Host) Deployed() []common.Address {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.order)
}

// CreateClone records a new instance of impl in w. The address is derived from
// creator and the world's clone nonce, so rolled back deployments do not use up addresses.
func (h *Host) CreateClone(w *state.World, creator, impl common.Address, name interfaces.TemplateName, version interfaces.TemplateVersion) (common.Address, error) {
	if _, ok := h.Template(impl); !ok {
		return common.Address{}, &interfaces.RegistryError{Kind: interfaces.InvalidTarget, Target: impl}
	}

	instance := crypto.CreateAddress(creator, w.CloneNonce)
	w.CloneNonce++
	if _, exists := w.Clones[instance]; exists {
		return common.Address{}, fmt.Errorf("instance address collision at %s", instance.Hex())
	}

	w.Clones[instance] = interfaces.CloneInfo{
		Implementation: impl,
		Name:           name,
		Version:        version,
	}
	w.Instances = append(w.Instances, instance)
	return instance, nil
}

// Invoke runs a call against req.Target inside w. It is atomic: storage
// writes, the value transfer and the initialized flag are applied to w only
// if the call succeeds. Any failure is a *interfaces.RevertError carrying the
// failure payload; running out of budget yields an empty payload.
func (h *Host) Invoke(w *state.World, req interfaces.InvokeRequest) (interfaces.InvokeResult, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	impl, info, isClone := h.resolve(w, req.Target)
	tmpl, hasCode := h.Template(impl)
	if !hasCode {
		if req.Kind == interfaces.InvokeInit {
			return interfaces.InvokeResult{}, &interfaces.RevertError{}
		}
		// Plain accounts accept any call and return nothing.
		if err := w.Transfer(req.Caller, req.Target, value); err != nil {
			return interfaces.InvokeResult{}, &interfaces.RevertError{}
		}
		return interfaces.InvokeResult{}, nil
	}

	if w.BalanceOf(req.Caller).Cmp(value) < 0 {
		return interfaces.InvokeResult{}, &interfaces.RevertError{}
	}

	if req.Kind == interfaces.InvokeInit && (!isClone || info.Initialized) {
		return interfaces.InvokeResult{}, interfaces.Revert("Initializable: contract is already initialized")
	}

	upfront := h.costs.Call + h.costs.DataByte*uint64(len(req.Data))
	if upfront > req.Budget {
		return interfaces.InvokeResult{}, &interfaces.RevertError{}
	}

	env := &env{
		world:     w,
		self:      req.Target,
		caller:    req.Caller,
		value:     new(big.Int).Set(value),
		remaining: req.Budget - upfront,
		costs:     h.costs,
		writes:    make(map[string][]byte),
	}

	ret, err := run(tmpl, env, req.Kind, slices.Clone(req.Data))
	if err != nil {
		return interfaces.InvokeResult{}, asRevert(err)
	}

	// Commit the call's effects.
	if err := w.Transfer(req.Caller, req.Target, value); err != nil {
		return interfaces.InvokeResult{}, &interfaces.RevertError{}
	}
	for _, key := range env.keys {
		w.StorageSet(req.Target, []byte(key), env.writes[key])
	}
	if req.Kind == interfaces.InvokeInit {
		info.Initialized = true
		w.Clones[req.Target] = info
	}

	return interfaces.InvokeResult{Return: ret, Used: req.Budget - env.remaining}, nil
}

// resolve maps a target to the code that runs for it.
func (h *Host) resolve(w *state.World, target common.Address) (common.Address, interfaces.CloneInfo, bool) {
	if info, ok := w.Clones[target]; ok {
		return info.Implementation, info, true
	}
	return target, interfaces.CloneInfo{}, false
}

func run(tmpl interfaces.Template, env *env, kind interfaces.InvokeKind, data []byte) (ret []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, interfaces.Revert(fmt.Sprintf("template panic: %v", r))
		}
	}()

	if kind == interfaces.InvokeInit {
		return tmpl.Initialize(env, data)
	}
	return tmpl.Invoke(env, data)
}

func asRevert(err error) *interfaces.RevertError {
	var revert *interfaces.RevertError
	if errors.As(err, &revert) {
		return revert
	}
	if errors.Is(err, interfaces.ErrBudgetExhausted) {
		return &interfaces.RevertError{}
	}
	return interfaces.Revert(err.Error())
}
