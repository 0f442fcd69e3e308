package grpcfeed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/yitech/stockview/adapter"
)

type fakeFeed struct {
	frames []string
	fail   error
	hold   bool
	codes  chan string
}

func (f *fakeFeed) Subscribe(code string, out FrameSender) error {
	f.codes <- code
	for _, fr := range f.frames {
		if err := out.Send([]byte(fr)); err != nil {
			return err
		}
	}
	if f.hold {
		<-out.Context().Done()
		return out.Context().Err()
	}
	return f.fail
}

func startFeed(t *testing.T, feed *fakeFeed) *Transport {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, feed)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	tr, cc, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return tr
}

func TestFramesThenServerEnd(t *testing.T) {
	feed := &fakeFeed{frames: []string{`{"type":"initial"}`, `{"type":"update"}`}, codes: make(chan string, 1)}
	tr := startFeed(t, feed)

	conn, err := tr.Dial(context.Background(), "002363")
	require.NoError(t, err)
	defer conn.Close()

	frame, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"initial"}`, string(frame))
	assert.Equal(t, "002363", <-feed.codes)

	frame, err = conn.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"update"}`, string(frame))

	_, err = conn.Read()
	assert.ErrorIs(t, err, adapter.ErrStreamClosed)
}

func TestServerFailureIsStreamError(t *testing.T) {
	feed := &fakeFeed{fail: status.Error(codes.Unavailable, "backend down"), codes: make(chan string, 1)}
	tr := startFeed(t, feed)

	conn, err := tr.Dial(context.Background(), "002363")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read()
	assert.ErrorIs(t, err, adapter.ErrStreamError)
}

func TestLocalCloseIsClean(t *testing.T) {
	feed := &fakeFeed{hold: true, codes: make(chan string, 1)}
	tr := startFeed(t, feed)

	conn, err := tr.Dial(context.Background(), "002363")
	require.NoError(t, err)
	<-feed.codes

	errs := make(chan error, 1)
	go func() {
		_, err := conn.Read()
		errs <- err
	}()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, adapter.ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}
}
