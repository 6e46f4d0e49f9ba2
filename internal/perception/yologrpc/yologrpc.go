// Package yologrpc implements a Detector against a YOLO service over gRPC.
//
// The service takes a google.protobuf.Struct request
// {image_id, image_data (base64), conf} and answers a Struct whose
// "json_data" field holds the same JSON result the HTTP router returns.
// Using well-known types keeps the client free of generated code.
package yologrpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fuangela/AutoDrone/internal/perception"
	"github.com/fuangela/AutoDrone/internal/scene"
)

// DefaultMethod is the full method name of the detect call.
const DefaultMethod = "/autodrone.v1.Detector/Detect"

// Detector calls the detect RPC once per frame.
type Detector struct {
	conn       *grpc.ClientConn
	method     string
	confidence float64
}

// New dials target (host:port). Extra dial options are appended after the
// insecure transport credentials.
func New(target, method string, confidence float64, opts ...grpc.DialOption) (*Detector, error) {
	if method == "" {
		method = DefaultMethod
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", target, err)
	}
	return &Detector{conn: conn, method: method, confidence: confidence}, nil
}

// Name returns the backend identifier.
func (d *Detector) Name() string { return "yologrpc" }

// Detect sends one frame.
func (d *Detector) Detect(ctx context.Context, f perception.Frame) ([]scene.Detection, error) {
	req, err := structpb.NewStruct(map[string]any{
		"image_id":   f.ID,
		"image_data": base64.StdEncoding.EncodeToString(f.Data),
		"conf":       d.confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("building detect request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := d.conn.Invoke(ctx, d.method, req, resp); err != nil {
		return nil, fmt.Errorf("detect rpc: %w", err)
	}

	payload := resp.GetFields()["json_data"].GetStringValue()
	if payload == "" {
		return nil, fmt.Errorf("detect rpc: response has no json_data")
	}
	dets, err := perception.DecodeResult([]byte(payload), f.ID)
	if err != nil {
		return nil, err
	}
	slog.Debug("yolo grpc detect", "frame", f.ID, "objects", len(dets))
	return dets, nil
}

// Close tears down the connection.
func (d *Detector) Close() error {
	return d.conn.Close()
}
