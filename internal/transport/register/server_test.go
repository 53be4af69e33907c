package register

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/mailbox"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func startAuthority(t *testing.T) *authority.Authority {
	t.Helper()
	a := authority.New(authority.Config{
		Inbox:  mailbox.New[authority.Message](16),
		Logger: quiet(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a
}

func do(t *testing.T, srv *httptest.Server, method, body string) (int, protocol.ErrorResponse) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+"/register", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var er protocol.ErrorResponse
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	}
	return resp.StatusCode, er
}

func TestRegisterLifecycle(t *testing.T) {
	a := startAuthority(t)
	srv := httptest.NewServer(NewServer(a.Inbox(), time.Second, quiet()).Handler())
	defer srv.Close()

	code, _ := do(t, srv, http.MethodPost, `{"name":"Alpha","ip_address":"10.0.0.1","port":8000}`)
	require.Equal(t, http.StatusNoContent, code)

	code, er := do(t, srv, http.MethodPost, `{"name":"Alpha","ip_address":"10.0.0.2","port":8000}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "NameTaken", er.Reason)

	code, er = do(t, srv, http.MethodPost, `{"name":"Beta","ip_address":"10.0.0.1","port":8000}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "AddressTaken", er.Reason)

	code, _ = do(t, srv, http.MethodDelete, `{"name":"Alpha"}`)
	require.Equal(t, http.StatusNoContent, code)

	code, er = do(t, srv, http.MethodDelete, `{"name":"Alpha"}`)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NameNotRegistered", er.Reason)

	require.Equal(t, 0, a.Metrics().Teams)
}

func TestRegisterBadRequests(t *testing.T) {
	a := startAuthority(t)
	srv := httptest.NewServer(NewServer(a.Inbox(), time.Second, quiet()).Handler())
	defer srv.Close()

	for _, body := range []string{
		`{"name":"Alpha"}`,
		`{"name":"Alpha","ip_address":"10.0.0.1","port":0}`,
		`{{`,
	} {
		code, er := do(t, srv, http.MethodPost, body)
		require.Equal(t, http.StatusBadRequest, code, body)
		require.Equal(t, protocol.ReasonBadRequest, er.Reason)
	}

	code, er := do(t, srv, http.MethodPut, `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, code)
	require.Equal(t, protocol.ReasonNotAllowed, er.Reason)
	require.Equal(t, uint64(0), a.Metrics().Processed)
}

func TestRegisterUnavailable(t *testing.T) {
	inbox := mailbox.New[authority.Message](1)
	inbox.Close()
	srv := httptest.NewServer(NewServer(inbox, 50*time.Millisecond, quiet()).Handler())
	defer srv.Close()

	code, er := do(t, srv, http.MethodPost, `{"name":"Alpha","ip_address":"10.0.0.1","port":8000}`)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, protocol.ReasonUnavailable, er.Reason)
}

func TestRegisterNoReply(t *testing.T) {
	// nobody drains this inbox
	inbox := mailbox.New[authority.Message](1)
	srv := httptest.NewServer(NewServer(inbox, 50*time.Millisecond, quiet()).Handler())
	defer srv.Close()

	code, er := do(t, srv, http.MethodPost, `{"name":"Alpha","ip_address":"10.0.0.1","port":8000}`)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, protocol.ReasonUnavailable, er.Reason)
}
