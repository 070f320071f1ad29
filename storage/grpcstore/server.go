package grpcstore

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/ekexport/storage"
)

// Server exposes a storage.Store over the ObjectStore gRPC service.
type Server struct {
	UnimplementedObjectStoreServer
	Store  storage.Store
	Logger *zap.Logger
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	name := nameFromContext(ctx)
	if err := storage.CheckName(name); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	b := in.GetValue()
	// Enforce the CID contract on the server side too.
	expected, err := storage.ObjectCID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	obj, err := s.Store.Put(ctx, name, b)
	if err != nil {
		s.logger().Warn("put failed", zap.String("name", name), zap.Error(err))
		return nil, mapErr(err)
	}
	if obj.CID != expected {
		return nil, status.Error(codes.DataLoss, storage.ErrCIDMismatch.Error())
	}
	s.logger().Debug("put", zap.String("name", name), zap.Int("bytes", len(b)), zap.Stringer("cid", obj.CID))
	return wrapperspb.String(obj.CID.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	name := in.GetValue()
	if err := storage.CheckName(name); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	b, err := s.Store.Get(ctx, name)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	name := in.GetValue()
	if err := storage.CheckName(name); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(s.Store.Has(ctx, name)), nil
}

func nameFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	v := md.Get(NameMetadataKey)
	if len(v) != 1 {
		return ""
	}
	return v[0]
}
