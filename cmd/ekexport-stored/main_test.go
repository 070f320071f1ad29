package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"xdao.co/ekexport/storage/grpcstore"
	"xdao.co/ekexport/storage/storetest"
)

func TestListBackends(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--list-backends"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "localfs") {
		t.Fatalf("missing localfs:\n%s", out.String())
	}
	if strings.Contains(out.String(), "grpc\t") {
		t.Fatalf("grpc client backend must not be offered by the daemon:\n%s", out.String())
	}
}

func TestServeRoundTripAndShutdown(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	backing := storetest.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, backing, grpcstore.DefaultMaxMsgBytes, zap.NewNop()) }()

	cc, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	client := grpcstore.NewClient(cc, lis.Addr().String())
	obj, err := client.Put(context.Background(), "GB/1-2-00001.zip", []byte("archive"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !backing.Has(context.Background(), obj.Name) {
		t.Fatalf("object not stored in backing store")
	}
	_ = client.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
