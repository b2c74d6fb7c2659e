package tntgo_test

import (
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/vkolb/tntgo/internal/testserver"
	"github.com/vkolb/tntgo/tntgo"
)

func startServer(t *testing.T) *testserver.Server {
	t.Helper()
	srv, err := testserver.New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func hostPortOf(t *testing.T, srv *testserver.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func TestConnectorPingRoundTrip(t *testing.T) {
	srv := startServer(t)
	host, port := hostPortOf(t, srv)

	cn, err := tntgo.NewConnector(tntgo.ConnectorOptions{Name: "ping"})
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer cn.Shutdown()

	conn, err := cn.Connect(host, port, 2000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != "READY" {
		t.Fatalf("state = %s, want READY", conn.State())
	}

	sync := conn.Ping()
	if err := cn.Wait(conn, sync, 2000); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	resp, ok := conn.GetResponse(sync)
	if !ok {
		t.Fatalf("GetResponse: not found")
	}
	if resp.Header.Code != 0 {
		t.Fatalf("code = %d, want 0", resp.Header.Code)
	}
	if cn.Stats().RequestsSent() == 0 && cn.Stats().ResponsesRead() == 0 {
		t.Fatalf("stats were never updated")
	}
}

func TestConnectorReplaceThenSelect(t *testing.T) {
	srv := startServer(t)
	host, port := hostPortOf(t, srv)

	cn, err := tntgo.NewConnector(tntgo.ConnectorOptions{Name: "replace-select"})
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer cn.Shutdown()

	conn, err := cn.Connect(host, port, 2000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	replaceSync := conn.Replace(512, []any{uint64(1), "hello"})
	if err := cn.Wait(conn, replaceSync, 2000); err != nil {
		t.Fatalf("Wait(replace): %v", err)
	}
	if _, ok := conn.GetResponse(replaceSync); !ok {
		t.Fatalf("GetResponse(replace): not found")
	}

	selectSync := conn.Select(512, 0, 10, 0, 0, []any{uint64(1)})
	if err := cn.Wait(conn, selectSync, 2000); err != nil {
		t.Fatalf("Wait(select): %v", err)
	}
	resp, ok := conn.GetResponse(selectSync)
	if !ok {
		t.Fatalf("GetResponse(select): not found")
	}
	if len(resp.Data) != 1 {
		t.Fatalf("got %d rows, want 1", len(resp.Data))
	}
	if resp.Data[0][0].Uint != 1 || string(resp.Data[0][1].Bytes) != "hello" {
		t.Fatalf("row = %+v, want (1, \"hello\")", resp.Data[0])
	}
}

func TestConnectorWaitAnyAcrossTwoConnections(t *testing.T) {
	srv := startServer(t)
	host, port := hostPortOf(t, srv)

	cn, err := tntgo.NewConnector(tntgo.ConnectorOptions{Name: "wait-any"})
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer cn.Shutdown()

	a, err := cn.Connect(host, port, 2000)
	if err != nil {
		t.Fatalf("Connect a: %v", err)
	}
	b, err := cn.Connect(host, port, 2000)
	if err != nil {
		t.Fatalf("Connect b: %v", err)
	}

	syncB := b.Ping()

	winner, ok := cn.WaitAny(2000)
	if !ok {
		t.Fatalf("WaitAny: timed out")
	}
	if !winner.Equal(b) {
		t.Fatalf("winner = fd %d, want b's fd %d", winner.Fd(), b.Fd())
	}
	if !b.FutureIsReady(syncB) {
		t.Fatalf("b's ping response not ready after WaitAny reported it")
	}
	_ = a
}

func TestConnectorCallSurfacesServerErrorStack(t *testing.T) {
	srv := startServer(t)
	host, port := hostPortOf(t, srv)
	srv.FailNextCall("box.broken", 42, "function not found", "eval.cc:117")

	cn, err := tntgo.NewConnector(tntgo.ConnectorOptions{Name: "call-error"})
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer cn.Shutdown()

	conn, err := cn.Connect(host, port, 2000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sync := conn.Call("box.broken", nil)
	if err := cn.Wait(conn, sync, 2000); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	resp, ok := conn.GetResponse(sync)
	if !ok {
		t.Fatalf("GetResponse: not found")
	}
	if resp.Header.Code != 42 {
		t.Fatalf("code = %d, want 42", resp.Header.Code)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("got %d error frames, want 2", len(resp.Errors))
	}
	if !strings.Contains(resp.Errors[0].Msg, "function not found") {
		t.Fatalf("error[0].Msg = %q", resp.Errors[0].Msg)
	}
}

func TestConnectorWaitTimesOutWithoutAResponse(t *testing.T) {
	srv := startServer(t)
	host, port := hostPortOf(t, srv)

	cn, err := tntgo.NewConnector(tntgo.ConnectorOptions{Name: "timeout"})
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer cn.Shutdown()

	conn, err := cn.Connect(host, port, 2000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	const neverAnsweredSync = 999999
	if err := cn.Wait(conn, neverAnsweredSync, 50); err == nil {
		t.Fatalf("Wait: want timeout error, got nil")
	}
}
