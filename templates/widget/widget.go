// Package widget is a small reference template: a labelled counter whose
// calls are encoded with the Solidity ABI.
package widget

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ruteri/template-gateway/interfaces"
)

// Name is the template name every Widget version reports.
const Name interfaces.TemplateName = "Widget"

var (
	V1_0_0 = interfaces.MustTemplateVersion(1, 0, 0)
	V1_1_0 = interfaces.MustTemplateVersion(1, 1, 0)
)

const abiJSON = `[
	{"type":"function","name":"initialize","inputs":[{"name":"label","type":"string"}],"outputs":[]},
	{"type":"function","name":"increment","stateMutability":"payable","inputs":[{"name":"by","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decrement","inputs":[{"name":"by","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"count","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"label","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"received","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"fail","inputs":[{"name":"reason","type":"string"}],"outputs":[]}
]`

// ABI describes every Widget method. decrement exists from 1.1.0 on.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var (
	countKey    = []byte("count")
	labelKey    = []byte("label")
	receivedKey = []byte("received")
)

// Widget implements interfaces.Template.
type Widget struct {
	version interfaces.TemplateVersion
}

var _ interfaces.Template = (*Widget)(nil)

// New returns the Widget implementation of the given version.
func New(version interfaces.TemplateVersion) *Widget {
	return &Widget{version: version}
}

// Catalog returns every released Widget version, oldest first.
func Catalog() []interfaces.Template {
	return []interfaces.Template{New(V1_0_0), New(V1_1_0)}
}

func (w *Widget) Name() interfaces.TemplateName       { return Name }
func (w *Widget) Version() interfaces.TemplateVersion { return w.version }

// Initialize expects an encoded initialize(string) call with a non-empty label.
func (w *Widget) Initialize(env interfaces.Env, data []byte) ([]byte, error) {
	method, args, err := decode(data)
	if err != nil {
		return nil, err
	}
	if method.Name != "initialize" {
		return nil, interfaces.Revert("widget: expected initialize")
	}
	label := args[0].(string)
	if label == "" {
		return nil, interfaces.Revert("widget: empty label")
	}
	return nil, env.Set(labelKey, []byte(label))
}

func (w *Widget) Invoke(env interfaces.Env, data []byte) ([]byte, error) {
	method, args, err := decode(data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "count":
		return w.readUint(env, method, countKey)
	case "received":
		return w.readUint(env, method, receivedKey)
	case "label":
		label, err := env.Get(labelKey)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(string(label))
	case "increment":
		if err := w.add(env, receivedKey, env.Value()); err != nil {
			return nil, err
		}
		return w.update(env, method, args[0].(*big.Int))
	case "decrement":
		if w.version < V1_1_0 {
			break
		}
		return w.update(env, method, new(big.Int).Neg(args[0].(*big.Int)))
	case "fail":
		return nil, interfaces.Revert(args[0].(string))
	}
	return nil, interfaces.Revert(fmt.Sprintf("widget %s: unknown method %s", w.version, method.Name))
}

func (w *Widget) readUint(env interfaces.Env, method *abi.Method, key []byte) ([]byte, error) {
	raw, err := env.Get(key)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(new(big.Int).SetBytes(raw))
}

func (w *Widget) update(env interfaces.Env, method *abi.Method, delta *big.Int) ([]byte, error) {
	if err := w.add(env, countKey, delta); err != nil {
		return nil, err
	}
	raw, err := env.Get(countKey)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(new(big.Int).SetBytes(raw))
}

func (w *Widget) add(env interfaces.Env, key []byte, delta *big.Int) error {
	if delta.Sign() == 0 {
		return nil
	}
	raw, err := env.Get(key)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(new(big.Int).SetBytes(raw), delta)
	if total.Sign() < 0 {
		return interfaces.Revert("widget: count underflow")
	}
	return env.Set(key, total.Bytes())
}

var errShortCall = errors.New("widget: call data shorter than a selector")

func decode(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errShortCall
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, interfaces.Revert("widget: unknown selector")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, interfaces.Revert("widget: malformed arguments")
	}
	return method, args, nil
}

// Pack encodes a call to a Widget method.
func Pack(method string, args ...interface{}) ([]byte, error) {
	return ABI.Pack(method, args...)
}

// MustPack is Pack for arguments known to be valid.
func MustPack(method string, args ...interface{}) []byte {
	data, err := Pack(method, args...)
	if err != nil {
		panic(err)
	}
	return data
}

// Unpack decodes the return data of a Widget method.
func Unpack(method string, data []byte) ([]interface{}, error) {
	return ABI.Unpack(method, data)
}
