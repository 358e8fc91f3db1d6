package grpcclient

import (
	"context"

	"github.com/vuuvv/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"gps-svr/internal/codec"
	"gps-svr/internal/pipeline"
)

// SendDataMethod is the unary RPC every forwarded record goes through. The
// request and response travel as google.protobuf.Struct so the forwarder
// does not need generated stubs on this side.
const SendDataMethod = "/forwarder.Forwarder/SendData"

type GRPCClient struct {
	conn *grpc.ClientConn
}

func NewGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "grpc: dial %s", addr)
	}
	return &GRPCClient{conn: conn}, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}

func (g *GRPCClient) SendData(ctx context.Context, deviceID, payload string) error {
	req, err := structpb.NewStruct(map[string]any{
		"device_id": deviceID,
		"payload":   payload,
	})
	if err != nil {
		return errors.Wrap(err, "grpc: build request")
	}

	res := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, SendDataMethod, req, res); err != nil {
		return errors.Wrap(err, "grpc: SendData")
	}
	if !res.GetFields()["success"].GetBoolValue() {
		return errors.Errorf("forwarder rejected data for device %s", deviceID)
	}
	return nil
}

func (g *GRPCClient) Name() string { return "grpc" }

// Record forwards the tracking view of rec keyed by its IMEI.
func (g *GRPCClient) Record(ctx context.Context, rec *codec.Record) error {
	payload, err := pipeline.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "grpc: marshal tracking")
	}
	return g.SendData(ctx, rec.IMEIValue(), string(payload))
}
