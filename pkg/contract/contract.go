// Package contract turns an ABI description into the opaque selector and
// argument bytes carried by a trade request.
package contract

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

// LoadABI reads a JSON ABI definition from disk.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("opening abi file: %s", err)
	}
	defer func() { _ = f.Close() }()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parsing abi: %s", err)
	}
	return parsed, nil
}

// ParseABI parses a JSON ABI definition.
func ParseABI(definition string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parsing abi: %s", err)
	}
	return parsed, nil
}

// Call is an encoded contract call.
//
// A method without inputs has nothing to put after the selector, so the
// selector itself travels as the payload and Selector is left empty. Both
// shapes produce the same call data.
type Call struct {
	Selector []byte
	Args     []byte
}

// Data returns the call data.
func (c Call) Data() []byte {
	return append(append([]byte(nil), c.Selector...), c.Args...)
}

// EncodeCall packs the arguments of method.
func EncodeCall(contractABI abi.ABI, method string, args ...interface{}) (Call, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return Call{}, fmt.Errorf("method %s not found in abi: %w", method, txn.ErrInvalidRequest)
	}
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return Call{}, fmt.Errorf("packing arguments of %s: %s: %w", method, err, txn.ErrInvalidRequest)
	}
	selector := append([]byte(nil), m.ID...)
	if len(packed) == 0 {
		return Call{Args: selector}, nil
	}
	return Call{Selector: selector, Args: packed}, nil
}

// EncodeCallStrings packs arguments given in their textual form, converting
// each one according to the method input type.
func EncodeCallStrings(contractABI abi.ABI, method string, args []string) (Call, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return Call{}, fmt.Errorf("method %s not found in abi: %w", method, txn.ErrInvalidRequest)
	}
	if len(args) != len(m.Inputs) {
		return Call{}, fmt.Errorf("method %s expects %d arguments, got %d: %w",
			method, len(m.Inputs), len(args), txn.ErrInvalidRequest)
	}
	values := make([]interface{}, len(args))
	for i, input := range m.Inputs {
		v, err := convert(input.Type, args[i])
		if err != nil {
			return Call{}, fmt.Errorf("argument %s: %s: %w", input.Name, err, txn.ErrInvalidRequest)
		}
		values[i] = v
	}
	return EncodeCall(contractABI, method, values...)
}

func convert(t abi.Type, s string) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return fitInteger(t, n)
	default:
		return nil, fmt.Errorf("unsupported type %s", t.String())
	}
}

// fitInteger converts n into the Go type the abi packer expects for t.
func fitInteger(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s for %s", n, t.String())
	}
	if n.BitLen() > t.Size || (t.T == abi.IntTy && n.BitLen() == t.Size) {
		return nil, fmt.Errorf("value %s overflows %s", n, t.String())
	}
	if t.T == abi.UintTy {
		switch t.Size {
		case 8:
			return uint8(n.Uint64()), nil
		case 16:
			return uint16(n.Uint64()), nil
		case 32:
			return uint32(n.Uint64()), nil
		case 64:
			return n.Uint64(), nil
		}
		return n, nil
	}
	switch t.Size {
	case 8:
		return int8(n.Int64()), nil
	case 16:
		return int16(n.Int64()), nil
	case 32:
		return int32(n.Int64()), nil
	case 64:
		return n.Int64(), nil
	}
	return n, nil
}
