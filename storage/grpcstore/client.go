package grpcstore

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/ekexport/storage"
)

// Client implements storage.Store over the ObjectStore gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client ObjectStoreClient
	target string

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ storage.Store = (*Client)(nil)

type DialOptions struct {
	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

// Dial creates a client for target. The connection is established lazily
// on the first RPC.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc, target), nil
}

// NewClient wraps an existing connection.
func NewClient(cc *grpc.ClientConn, target string) *Client {
	return &Client{cc: cc, client: NewObjectStoreClient(cc), target: target}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, name string, data []byte) (storage.Object, error) {
	if err := storage.CheckName(name); err != nil {
		return storage.Object{}, err
	}
	expected, err := storage.NewObject(name, "grpc://"+c.target+"/"+name, data)
	if err != nil {
		return storage.Object{}, err
	}

	ctx, cancel := c.ctx(ctx)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, NameMetadataKey, name)

	reply, err := c.client.Put(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return storage.Object{}, mapRPC(err)
	}
	id, err := cid.Decode(reply.GetValue())
	if err != nil || !id.Defined() {
		return storage.Object{}, storage.ErrCIDMismatch
	}
	if id != expected.CID {
		return storage.Object{}, storage.ErrCIDMismatch
	}
	return expected, nil
}

func (c *Client) Get(ctx context.Context, name string) ([]byte, error) {
	if err := storage.CheckName(name); err != nil {
		return nil, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(name))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Has(ctx context.Context, name string) bool {
	if storage.CheckName(name) != nil {
		return false
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(name))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
