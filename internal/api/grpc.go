package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"backtide/internal/domain"
	"backtide/internal/engine"
	"backtide/internal/store"
)

// BacktestServiceName is the fully qualified gRPC service name.
const BacktestServiceName = "backtide.v1.BacktestService"

// RunBacktestMethod is the full method path of the unary backtest call.
const RunBacktestMethod = "/" + BacktestServiceName + "/RunBacktest"

// BacktestServer is the server API of backtide.v1.BacktestService. Requests
// and responses are google.protobuf.Struct values carrying the same fields as
// the HTTP API.
type BacktestServer interface {
	RunBacktest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Compile-time interface check.
var _ BacktestServer = (*BacktestService)(nil)

// BacktestService serves backtests over gRPC.
type BacktestService struct {
	engine *engine.Engine
}

// NewBacktestService creates a BacktestService backed by eng.
func NewBacktestService(eng *engine.Engine) *BacktestService {
	return &BacktestService{engine: eng}
}

// RegisterBacktestService registers srv on s.
func RegisterBacktestService(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&backtestServiceDesc, srv)
}

// RunBacktest runs a single backtest.
func (s *BacktestService) RunBacktest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	params, err := paramsFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.engine.RunBacktest(ctx, params)
	if err != nil {
		return nil, grpcError(err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	return out, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNoDataAvailable), errors.Is(err, store.ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "An unexpected error occurred")
	}
}

func paramsFromStruct(req *structpb.Struct) (domain.BacktestParams, error) {
	var p domain.BacktestParams
	f := req.GetFields()

	field := func(key string) (*structpb.Value, error) {
		v, ok := f[key]
		if !ok {
			return nil, fmt.Errorf("Missing required parameter: '%s'", key)
		}
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
			return nil, fmt.Errorf("Missing required parameter: '%s'", key)
		}
		return v, nil
	}
	integer := func(key string) (int, error) {
		v, err := field(key)
		if err != nil {
			return 0, err
		}
		switch k := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			if k.NumberValue != math.Trunc(k.NumberValue) || math.Abs(k.NumberValue) > math.MaxInt32 {
				return 0, fmt.Errorf("parameter '%s' must be an integer", key)
			}
			return int(k.NumberValue), nil
		case *structpb.Value_StringValue:
			if n, err := strconv.Atoi(k.StringValue); err == nil {
				return n, nil
			}
		}
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}

	v, err := field("symbol")
	if err != nil {
		return p, err
	}
	sym, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return p, fmt.Errorf("parameter 'symbol' must be a string")
	}
	p.Symbol = sym.StringValue

	if v, err = field("initial_investment"); err != nil {
		return p, err
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		p.InitialInvestment = decimal.NewFromFloat(k.NumberValue)
	case *structpb.Value_StringValue:
		if p.InitialInvestment, err = decimal.NewFromString(k.StringValue); err != nil {
			return p, fmt.Errorf("parameter 'initial_investment' must be a number")
		}
	default:
		return p, fmt.Errorf("parameter 'initial_investment' must be a number")
	}

	if p.BuyWindow, err = integer("buy_ma_window"); err != nil {
		return p, err
	}
	if p.SellWindow, err = integer("sell_ma_window"); err != nil {
		return p, err
	}
	return p, nil
}

func runBacktestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).RunBacktest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RunBacktestMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).RunBacktest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunBacktest",
			Handler:    runBacktestHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backtide/v1/backtest.proto",
}
