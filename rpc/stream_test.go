package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"localmoney/native/escrow"
	"localmoney/storage/eventlog"
)

func dialStream(t *testing.T, ctx context.Context, srv *httptest.Server, token, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?" + query
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return websocket.Dial(ctx, url, opts)
}

func readStreamRecord(t *testing.T, ctx context.Context, conn *websocket.Conn) eventlog.Record {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var record eventlog.Record
	require.NoError(t, json.Unmarshal(data, &record))
	return record
}

func TestEventStreamBacklogAndLive(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	trade := env.openTrade(t, env.seedMarket(t))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := dialStream(t, ctx, srv, userToken(t, env.buyer), fmt.Sprintf("tradeId=%d", trade.ID))
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readStreamRecord(t, ctx, conn)
	require.Equal(t, escrow.EventTypeTradeCreated, first.Type)
	require.Equal(t, trade.ID, first.TradeID)

	env.mustCall(t, userToken(t, env.seller), "trade_accept", map[string]interface{}{"id": trade.ID, "contact": "enc:seller"}, nil)
	for {
		record := readStreamRecord(t, ctx, conn)
		require.Equal(t, trade.ID, record.TradeID)
		require.Greater(t, record.Seq, first.Seq)
		if record.Type == escrow.EventTypeTradeAccepted {
			break
		}
	}
}

func TestEventStreamAccess(t *testing.T) {
	env := newTestEnv(t, Config{DevFaucet: true})
	trade := env.openTrade(t, env.seedMarket(t))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := dialStream(t, ctx, srv, "", fmt.Sprintf("tradeId=%d", trade.ID))
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialStream(t, ctx, srv, userToken(t, env.outsider), fmt.Sprintf("tradeId=%d", trade.ID))
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dialStream(t, ctx, srv, userToken(t, env.buyer), "")
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dialStream(t, ctx, srv, operatorToken(t), "afterSeq=-1")
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn, _, err := dialStream(t, ctx, srv, operatorToken(t), "type="+escrow.EventTypeTradeCreated)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	record := readStreamRecord(t, ctx, conn)
	require.Equal(t, escrow.EventTypeTradeCreated, record.Type)
}

func TestParseStreamQuery(t *testing.T) {
	q, err := parseStreamQuery(map[string][]string{"tradeId": {"7"}, "afterSeq": {"3"}, "type": {" trade.created "}})
	require.NoError(t, err)
	require.Equal(t, eventlog.Query{Type: "trade.created", TradeID: 7, AfterSeq: 3}, q)

	_, err = parseStreamQuery(map[string][]string{"tradeId": {"seven"}})
	require.Error(t, err)
}
