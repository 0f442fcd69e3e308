// Package grpcfeed carries the push feed over a gRPC server stream. Frames are
// the same JSON envelopes the WebSocket endpoint sends, wrapped in
// wrapperspb.BytesValue; the request is the stock code in a StringValue.
package grpcfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yitech/stockview/adapter"
)

const (
	ServiceName     = "stockview.feed.v1.Feed"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// FrameSender delivers encoded push frames to one subscriber.
type FrameSender interface {
	Context() context.Context
	Send(frame []byte) error
}

// FeedServer streams push frames for code until the subscriber goes away.
type FeedServer interface {
	Subscribe(code string, out FrameSender) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "stockview/feed/v1/feed.proto",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv FeedServer) {
	s.RegisterService(&serviceDesc, srv)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	if req.GetValue() == "" {
		return status.Error(codes.InvalidArgument, "stock code required")
	}
	return srv.(FeedServer).Subscribe(req.GetValue(), &frameSender{stream})
}

type frameSender struct {
	grpc.ServerStream
}

func (f *frameSender) Send(frame []byte) error {
	return f.SendMsg(wrapperspb.Bytes(frame))
}

// ── client side ──────────────────────────────────────────────────────────────

var _ adapter.Transport = (*Transport)(nil)

// Transport opens push connections over an existing gRPC channel.
type Transport struct {
	cc grpc.ClientConnInterface
}

func NewTransport(cc grpc.ClientConnInterface) *Transport {
	return &Transport{cc: cc}
}

// Dial creates a plaintext channel to addr. The caller owns the returned
// ClientConn.
func Dial(addr string, opts ...grpc.DialOption) (*Transport, *grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcfeed: create client: %w", err)
	}
	return NewTransport(cc), cc, nil
}

func (t *Transport) Dial(ctx context.Context, code string) (adapter.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := t.cc.NewStream(ctx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpcfeed: open stream: %v: %w", err, adapter.ErrStreamError)
	}
	if err := stream.SendMsg(wrapperspb.String(code)); err != nil {
		cancel()
		return nil, fmt.Errorf("grpcfeed: send request: %v: %w", err, adapter.ErrStreamError)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("grpcfeed: close send: %v: %w", err, adapter.ErrStreamError)
	}
	return &conn{stream: stream, cancel: cancel}, nil
}

type conn struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (c *conn) Read() ([]byte, error) {
	msg := new(wrapperspb.BytesValue)
	if err := c.stream.RecvMsg(msg); err != nil {
		return nil, c.classify(err)
	}
	return msg.GetValue(), nil
}

func (c *conn) classify(err error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("grpcfeed: server ended stream: %w", adapter.ErrStreamClosed)
	case closed && status.Code(err) == codes.Canceled:
		return fmt.Errorf("grpcfeed: %v: %w", err, adapter.ErrStreamClosed)
	default:
		return fmt.Errorf("grpcfeed: recv: %v: %w", err, adapter.ErrStreamError)
	}
}

func (c *conn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
	})
	return nil
}
