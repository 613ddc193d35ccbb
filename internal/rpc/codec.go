package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/rail-geofence/model"
)

// Requests and responses travel as google.protobuf.Struct. Responses carry
// the same JSON shapes the REST façade returns.

// structMethod is the signature shared by every RPC in this package.
type structMethod func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a structMethod picked from the registered server into a
// grpc.MethodDesc handler.
func unaryHandler(fullMethod string, pick func(srv any) structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := pick(srv)
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(*structpb.Struct))
		})
	}
}

// invoke performs a unary call with Struct payloads.
func invoke(ctx context.Context, cc grpc.ClientConnInterface, fullMethod string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, fullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// toStruct renders v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// FromStruct decodes a response Struct into v, the inverse of toStruct.
func FromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// args reads typed request fields. Absent and null fields are "not set";
// a field of the wrong kind is an invalid argument.
type args struct {
	fields map[string]*structpb.Value
}

func newArgs(s *structpb.Struct) args {
	return args{fields: s.GetFields()}
}

func (a args) value(key string) *structpb.Value {
	v, ok := a.fields[key]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	return v
}

func (a args) str(key string) (string, error) {
	v := a.value(key)
	if v == nil {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", model.ErrInvalidArgument, key)
	}
	return s.StringValue, nil
}

func (a args) requiredStr(key string) (string, error) {
	s, err := a.str(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", model.ErrInvalidArgument, key)
	}
	return s, nil
}

func (a args) number(key string) (*float64, error) {
	v := a.value(key)
	if v == nil {
		return nil, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a number", model.ErrInvalidArgument, key)
	}
	f := n.NumberValue
	return &f, nil
}

func (a args) numberOr(key string, fallback float64) (float64, error) {
	n, err := a.number(key)
	if err != nil || n == nil {
		return fallback, err
	}
	return *n, nil
}

func (a args) intOr(key string, fallback int) (int, error) {
	n, err := a.number(key)
	if err != nil || n == nil {
		return fallback, err
	}
	if *n != math.Trunc(*n) {
		return 0, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidArgument, key)
	}
	return int(*n), nil
}

func (a args) boolean(key string) (*bool, error) {
	v := a.value(key)
	if v == nil {
		return nil, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a boolean", model.ErrInvalidArgument, key)
	}
	out := b.BoolValue
	return &out, nil
}
