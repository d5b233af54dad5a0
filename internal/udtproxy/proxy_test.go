package udtproxy

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"

	"github.com/skycoin/udt/pkg/udt"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

func TestProxy(t *testing.T) {
	srv, err := NewServer("")
	require.NoError(t, err)

	l, err := udt.Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	errChan := make(chan error)
	go func() {
		errChan <- srv.Serve(l)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := udt.Dial(ctx, l.Addr().String(), udt.StreamMode, nil)
	require.NoError(t, err)

	client, err := NewClient(conn)
	require.NoError(t, err)

	tcpL, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errChan2 := make(chan error)
	go func() {
		errChan2 <- client.Serve(tcpL)
	}()

	proxyDial, err := proxy.SOCKS5("tcp", tcpL.Addr().String(), nil, proxy.Direct)
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Hello, client")
	}))
	defer ts.Close()

	c := &http.Client{Transport: &http.Transport{Dial: proxyDial.Dial}}
	res, err := c.Get(ts.URL)
	require.NoError(t, err)

	msg, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, "Hello, client\n", string(msg))
	assert.Equal(t, 1, srv.Sessions())

	require.NoError(t, client.Close())
	require.NoError(t, srv.Close())

	<-errChan2
	<-errChan
}
