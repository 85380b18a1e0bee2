package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHandleFetchWS_ReportsFailureForErroringProvider(t *testing.T) {
	h, cancel := newTestHandler(t)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(h.handleFetchWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(fetchRequest{Lat: 10.0005, Lon: 20.0005}))

	var event fetchFailedEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "FetchFailed", event.Event)
}
