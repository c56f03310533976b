package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pulsecare/pulsecare/internal/accounts"
	iauth "github.com/pulsecare/pulsecare/internal/auth"
	"github.com/pulsecare/pulsecare/internal/database/testutil"
	"github.com/pulsecare/pulsecare/internal/registration"
	"github.com/pulsecare/pulsecare/internal/verification"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWatchFixture(t *testing.T) (*iauth.SessionController, *httptest.Server) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	codeStore, err := verification.NewSQLStore(db)
	require.NoError(t, err)
	codes, err := verification.NewService(codeStore, nil)
	require.NoError(t, err)
	staging, err := registration.NewStore(db)
	require.NoError(t, err)
	accountStore, err := accounts.NewGormStore(db)
	require.NoError(t, err)

	sessions, err := iauth.NewSessionController(codes, staging, accountStore, iauth.Config{})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/watch", NewAuthHandler(sessions).Watch)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return sessions, server
}

func TestWatchStreamsSessionStates(t *testing.T) {
	sessions, server := newWatchFixture(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	var state iauth.SessionState
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&state))
	require.Equal(t, iauth.PhaseAnonymous, state.Phase)

	require.NoError(t, sessions.SignUp(context.Background(), "ann@example.com", "Ann", "sup3r-secret"))

	require.NoError(t, conn.ReadJSON(&state))
	require.Equal(t, iauth.PhaseAwaitingVerification, state.Phase)
	require.Equal(t, "ann@example.com", state.PendingEmail)
}

func TestWatchRejectsPlainHTTP(t *testing.T) {
	_, server := newWatchFixture(t)

	resp, err := http.Get(server.URL + "/watch")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
