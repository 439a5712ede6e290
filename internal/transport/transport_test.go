package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/chatgw/internal/observ"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.WriteMessage(websocket.PingMessage, nil)
			if err := ws.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSDialerRoundTrip(t *testing.T) {
	srv := echoServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := NewWSDialer(Config{}).Dial(ctx, url)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage([]byte(`{"op":1,"d":null}`)))
	got, err := conn.ReadMessage()
	require.NoError(t, err, "control frames are skipped")
	assert.JSONEq(t, `{"op":1,"d":null}`, string(got))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.ReadMessage()
	assert.Error(t, err)
}

// closeCodeServer reports the close code of every socket it accepts
func closeCodeServer(t *testing.T) (string, <-chan int) {
	t.Helper()
	codes := make(chan int, 4)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				code := 0
				if ce, ok := err.(*websocket.CloseError); ok {
					code = ce.Code
				}
				codes <- code
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), codes
}

func TestCloseAndDropSendDistinctCodes(t *testing.T) {
	url, codes := closeCodeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name string
		end  func(Conn) error
		want int
	}{
		{"close", Conn.Close, websocket.CloseNormalClosure},
		{"drop", Conn.Drop, CloseReconnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := NewWSDialer(Config{}).Dial(ctx, url)
			require.NoError(t, err)
			require.NoError(t, tt.end(conn))

			select {
			case got := <-codes:
				assert.Equal(t, tt.want, got)
			case <-ctx.Done():
				t.Fatal("server never saw the close frame")
			}
		})
	}
}

func TestDropAfterCloseKeepsFirstCode(t *testing.T) {
	url, codes := closeCodeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWSDialer(Config{}).Dial(ctx, url)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Drop())

	select {
	case got := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, got)
	case <-ctx.Done():
		t.Fatal("server never saw the close frame")
	}
}

func TestWSDialerReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWSDialer(Config{}).Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestHTTPClientRecordsMetrics(t *testing.T) {
	observ.Reset()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := New(Config{}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int64(1), observ.Counter("rest_requests_total", map[string]string{"method": "GET", "status": "418"}))
}
