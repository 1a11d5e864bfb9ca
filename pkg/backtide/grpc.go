package backtide

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const runBacktestMethod = "/backtide.v1.BacktestService/RunBacktest"

// GRPCClient calls the backtide gRPC service.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// DialGRPC connects to a plaintext gRPC endpoint such as "localhost:9090".
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewGRPCClient(conn), conn, nil
}

// NewGRPCClient wraps an existing connection.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// RunBacktest runs one backtest over gRPC.
func (c *GRPCClient) RunBacktest(ctx context.Context, req BacktestRequest) (*Result, error) {
	in, err := structpb.NewStruct(map[string]any{
		"symbol":             req.Symbol,
		"initial_investment": req.InitialInvestment,
		"buy_ma_window":      req.BuyWindow,
		"sell_ma_window":     req.SellWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, runBacktestMethod, in, out); err != nil {
		return nil, err
	}

	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &res, nil
}
