package rpc

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fairvm/go-fairvm/src/core"
	"github.com/fairvm/go-fairvm/src/executor"
	"github.com/holiman/uint256"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages travel as google.protobuf.Struct. Byte fields are 0x-prefixed
// hex. Gas and wei amounts are decimal strings, since a Struct number is a
// float64.

// ExecuteRequest is the payload of Execute and Call. Code is ignored by Call,
// which runs the code stored at Address.
type ExecuteRequest struct {
	Caller   core.Address
	Address  core.Address
	Value    *uint256.Int
	Input    []byte
	Code     []byte
	GasLimit uint64
	GasPrice *uint256.Int
	Static   bool
}

// DeployRequest is the payload of Deploy
type DeployRequest struct {
	Creator  core.Address
	Code     []byte
	Value    *uint256.Int
	GasLimit uint64
	GasPrice *uint256.Int
}

// Result is the decoded reply of every method. Address is set by Deploy.
type Result struct {
	Success    bool
	Reverted   bool
	GasUsed    uint64
	ReturnData []byte
	Error      string
	Address    core.Address
	Logs       []*executor.Log
}

func (r *ExecuteRequest) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"caller":   r.Caller.Hex(),
		"address":  r.Address.Hex(),
		"value":    decimal(r.Value),
		"input":    core.EncodeHex(r.Input),
		"code":     core.EncodeHex(r.Code),
		"gas":      strconv.FormatUint(r.GasLimit, 10),
		"gasPrice": decimal(r.GasPrice),
		"static":   r.Static,
	})
}

func parseExecuteRequest(s *structpb.Struct) (*ExecuteRequest, error) {
	f := fields{m: s.GetFields()}
	req := &ExecuteRequest{
		Caller:   f.address("caller"),
		Address:  f.address("address"),
		Value:    f.amount("value"),
		Input:    f.hexBytes("input"),
		Code:     f.hexBytes("code"),
		GasLimit: f.number("gas"),
		GasPrice: f.amount("gasPrice"),
		Static:   f.flag("static"),
	}
	return req, f.err
}

func (r *DeployRequest) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"creator":  r.Creator.Hex(),
		"code":     core.EncodeHex(r.Code),
		"value":    decimal(r.Value),
		"gas":      strconv.FormatUint(r.GasLimit, 10),
		"gasPrice": decimal(r.GasPrice),
	})
}

func parseDeployRequest(s *structpb.Struct) (*DeployRequest, error) {
	f := fields{m: s.GetFields()}
	req := &DeployRequest{
		Creator:  f.address("creator"),
		Code:     f.hexBytes("code"),
		Value:    f.amount("value"),
		GasLimit: f.number("gas"),
		GasPrice: f.amount("gasPrice"),
	}
	return req, f.err
}

func encodeResult(res *executor.ExecutionResult, addr core.Address) (*structpb.Struct, error) {
	logs := make([]interface{}, len(res.Logs))
	for i, l := range res.Logs {
		topics := make([]interface{}, len(l.Topics))
		for j, topic := range l.Topics {
			topics[j] = topic.Hex()
		}
		logs[i] = map[string]interface{}{
			"address": l.Address.Hex(),
			"topics":  topics,
			"data":    core.EncodeHex(l.Data),
		}
	}

	m := map[string]interface{}{
		"success":    res.Success,
		"reverted":   res.Reverted,
		"gasUsed":    strconv.FormatUint(res.GasUsed, 10),
		"returnData": core.EncodeHex(res.ReturnData),
		"error":      res.Error(),
		"logs":       logs,
	}
	if !addr.IsEmpty() {
		m["address"] = addr.Hex()
	}
	return structpb.NewStruct(m)
}

func decodeResult(s *structpb.Struct) (*Result, error) {
	f := fields{m: s.GetFields()}
	res := &Result{
		Success:    f.flag("success"),
		Reverted:   f.flag("reverted"),
		GasUsed:    f.number("gasUsed"),
		ReturnData: f.hexBytes("returnData"),
		Error:      f.str("error"),
		Address:    f.address("address"),
	}
	for _, v := range s.GetFields()["logs"].GetListValue().GetValues() {
		lf := fields{m: v.GetStructValue().GetFields()}
		l := &executor.Log{
			Address: lf.address("address"),
			Data:    lf.hexBytes("data"),
		}
		for _, t := range lf.m["topics"].GetListValue().GetValues() {
			b, err := core.DecodeHex(t.GetStringValue())
			if err != nil {
				return nil, fmt.Errorf("%w: topic: %v", ErrInvalidRequest, err)
			}
			l.Topics = append(l.Topics, core.HashFromBytes(b))
		}
		if lf.err != nil {
			return nil, lf.err
		}
		res.Logs = append(res.Logs, l)
	}
	return res, f.err
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// fields reads typed values out of a Struct, keeping the first error.
// Missing keys read as zero values.
type fields struct {
	m   map[string]*structpb.Value
	err error
}

func (f *fields) fail(key string, err error) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s: %v", ErrInvalidRequest, key, err)
	}
}

func (f *fields) str(key string) string {
	v, ok := f.m[key]
	if !ok {
		return ""
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		f.fail(key, fmt.Errorf("want string"))
		return ""
	}
	return s.StringValue
}

func (f *fields) flag(key string) bool {
	v, ok := f.m[key]
	if !ok {
		return false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		f.fail(key, fmt.Errorf("want bool"))
		return false
	}
	return b.BoolValue
}

func (f *fields) hexBytes(key string) []byte {
	s := f.str(key)
	if s == "" {
		return nil
	}
	b, err := core.DecodeHex(s)
	if err != nil {
		f.fail(key, err)
	}
	return b
}

func (f *fields) address(key string) core.Address {
	s := f.str(key)
	if s == "" {
		return core.Address{}
	}
	b, err := core.DecodeHex(s)
	if err != nil {
		f.fail(key, err)
		return core.Address{}
	}
	if len(b) > core.AddressLength {
		f.fail(key, fmt.Errorf("address longer than %d bytes", core.AddressLength))
	}
	return core.AddressFromBytes(b)
}

// amount accepts a decimal or 0x-prefixed hex string
func (f *fields) amount(key string) *uint256.Int {
	s := f.str(key)
	if s == "" {
		return new(uint256.Int)
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		b, err := core.DecodeHex(s)
		if err == nil && len(b) > 32 {
			err = fmt.Errorf("more than 256 bits")
		}
		if err != nil {
			f.fail(key, err)
			return new(uint256.Int)
		}
		return new(uint256.Int).SetBytes(b)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		f.fail(key, err)
		return new(uint256.Int)
	}
	return v
}

// number accepts a decimal string or an integral number
func (f *fields) number(key string) uint64 {
	v, ok := f.m[key]
	if !ok {
		return 0
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(kind.StringValue, 10, 64)
		if err != nil {
			f.fail(key, err)
		}
		return n
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n < 0 || n != math.Trunc(n) || n > 1<<53 {
			f.fail(key, fmt.Errorf("%v is not a safe unsigned integer", n))
			return 0
		}
		return uint64(n)
	default:
		f.fail(key, fmt.Errorf("want string or number"))
		return 0
	}
}
