package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

type wsFake struct {
	connections atomic.Int32
	frames      []string
	dropAfter   bool
}

func (f *wsFake) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("accept: %v", err)
			return
		}
		f.connections.Add(1)
		ctx := r.Context()
		for _, frame := range f.frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		if f.dropAfter {
			_ = conn.Close(websocket.StatusGoingAway, "bye")
			return
		}
		// Keep reading so pings are answered until the client leaves.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestStreamDeliversConnectedThenFramesInOrder(t *testing.T) {
	fake := &wsFake{frames: []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	var log eventLog
	stream := NewStream(StreamOptions{
		URL:         wsURL(srv),
		OnConnected: func(context.Context) { log.add("connected") },
		OnMessage:   func(_ context.Context, data []byte) { log.add(string(data)) },
	})
	stream.Start(context.Background())
	defer stream.Close()

	require.Eventually(t, func() bool { return len(log.snapshot()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"connected", `{"n":1}`, `{"n":2}`, `{"n":3}`}, log.snapshot())

	require.Eventually(t, stream.Connected, time.Second, 5*time.Millisecond)
	require.NoError(t, stream.Ping(context.Background()))
}

func TestStreamReconnectsAndSignalsEachHandshake(t *testing.T) {
	fake := &wsFake{frames: []string{`{"n":1}`}, dropAfter: true}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	var connected atomic.Int32
	var errCount atomic.Int32
	stream := NewStream(StreamOptions{
		URL:         wsURL(srv),
		OnConnected: func(context.Context) { connected.Add(1) },
		OnMessage:   func(context.Context, []byte) {},
		OnError:     func(error) { errCount.Add(1) },
	})
	stream.Start(context.Background())
	defer stream.Close()

	require.Eventually(t, func() bool { return connected.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, errCount.Load(), int32(1))
	require.GreaterOrEqual(t, fake.connections.Load(), int32(2))
}

func TestStreamPingWithoutConnection(t *testing.T) {
	stream := NewStream(StreamOptions{URL: "ws://127.0.0.1:1/ws/x"})
	require.Error(t, stream.Ping(context.Background()))
	stream.Close()
}

func TestStreamCloseStopsReconnect(t *testing.T) {
	var errCount atomic.Int32
	stream := NewStream(StreamOptions{
		URL:     "ws://127.0.0.1:1/ws/x",
		OnError: func(error) { errCount.Add(1) },
	})
	stream.Start(context.Background())
	require.Eventually(t, func() bool { return errCount.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not return")
	}
}

func TestStreamURL(t *testing.T) {
	require.Equal(t, "wss://stream.binance.com:9443/ws/abc", StreamURL("wss://stream.binance.com:9443/", "abc"))
}

func TestDecodeExecutionReportKeepsCaseDistinctKeys(t *testing.T) {
	frame := `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"mUvoqJxFIILMdfAW5iGSOW","S":"BUY","o":"LIMIT","f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":"","x":"NEW","X":"NEW","r":"NONE","i":4293153,"l":"0.00000000","z":"0.00000000","L":"0.00000000","n":"0","N":null,"T":1499405658657,"t":-1,"I":8641984,"w":true,"m":false,"M":false,"O":1499405658657,"Z":"0.00000000","Y":"0.00000000","Q":"0.00000000","W":1499405658657,"V":"NONE"}`

	h, err := DecodeEventHeader([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, EventExecutionReport, h.Type)

	r, err := DecodeExecutionReport([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, "ETHBTC", r.Symbol)
	require.Equal(t, "BUY", r.Side)
	require.Equal(t, "mUvoqJxFIILMdfAW5iGSOW", r.ClientOrderID)
	require.Equal(t, "0.10264410", r.Price)
	require.Equal(t, "1.00000000", r.Quantity)
	require.Equal(t, "4293153", r.ID())
	require.Equal(t, "NEW", r.Status)
	require.Equal(t, Millis(1499405658657), r.CreatedTime)
	require.Equal(t, Millis(1499405658658), r.EventTime)
}

func TestMillisAcceptsQuotedAndNull(t *testing.T) {
	var ts Millis
	require.NoError(t, ts.UnmarshalJSON([]byte(`"1700000000000"`)))
	require.Equal(t, Millis(1700000000000), ts)
	require.NoError(t, ts.UnmarshalJSON([]byte(`null`)))
	require.Equal(t, Millis(0), ts)
	require.Error(t, ts.UnmarshalJSON([]byte(`"abc"`)))
}
