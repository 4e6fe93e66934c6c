package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote execution service
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to target. A nil tlsConfig dials without transport security.
func Dial(target string, tlsConfig *tls.Config, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an existing connection. A zero timeout leaves calls
// bounded only by their context.
func NewClient(conn *grpc.ClientConn, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute runs req.Code on the server
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*Result, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Execute", in)
}

// Call runs the code stored at req.Address on the server
func (c *Client) Call(ctx context.Context, req *ExecuteRequest) (*Result, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Call", in)
}

// Deploy creates a contract on the server
func (c *Client) Deploy(ctx context.Context, req *DeployRequest) (*Result, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Deploy", in)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return decodeResult(out)
}
