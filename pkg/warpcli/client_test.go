package warpcli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/cleanup"
	"github.com/warpdl/warpmaster/internal/download"
	"github.com/warpdl/warpmaster/internal/master"
	"github.com/warpdl/warpmaster/internal/server"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

const secret = "client-test-secret"

func startDaemon(t *testing.T) (*httptest.Server, *warpflow.Engine) {
	t.Helper()
	e := warpflow.NewEngine(&warpflow.EngineOpts{Logger: logger.NewNopLogger()})
	master.Workflows{
		Master:   master.New(master.Config{StatusTimeout: time.Second, StatusRetryDelay: 10 * time.Millisecond}),
		Download: download.NewTask(nil),
		Cleanup:  cleanup.NewPhase(cleanup.NewDelayStep("record work", 10*time.Millisecond)),
	}.Register(e)
	s := server.New(&server.Config{Secret: secret, Version: "9.9.9"}, e, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
		_ = e.Close()
	})
	return srv, e
}

func newTestClient(t *testing.T, url, token string) *Client {
	t.Helper()
	c := NewClient(url, token, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_NormalizesURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"127.0.0.1:7391", "http://127.0.0.1:7391"},
		{"http://127.0.0.1:7391/", "http://127.0.0.1:7391"},
		{"https://example.test", "https://example.test"},
	}
	for _, tt := range tests {
		c := NewClient(tt.in, "s", nil)
		if c.URL() != tt.want {
			t.Errorf("NewClient(%q).URL() = %q, want %q", tt.in, c.URL(), tt.want)
		}
		_ = c.Close()
	}
}

func TestClient_VersionAndStatus(t *testing.T) {
	srv, _ := startDaemon(t)
	c := newTestClient(t, srv.URL, secret)
	ctx := context.Background()

	v, err := c.GetDaemonVersion(ctx)
	if err != nil {
		t.Fatalf("GetDaemonVersion: %v", err)
	}
	if v.Version != "9.9.9" {
		t.Fatalf("unexpected version %q", v.Version)
	}
	st, err := c.MasterStatus(ctx)
	if err != nil {
		t.Fatalf("MasterStatus: %v", err)
	}
	if st.Found {
		t.Fatal("coordinator should not exist yet")
	}
}

func TestClient_StartListCountCancel(t *testing.T) {
	srv, _ := startDaemon(t)
	c := newTestClient(t, srv.URL, secret)
	ctx := context.Background()

	res, err := c.StartMaster(ctx, common.StartParams{Files: []common.FileParam{
		{SHA256: "one", Duration: "1m"},
		{SHA256: "two", Duration: "1m"},
	}})
	if err != nil {
		t.Fatalf("StartMaster: %v", err)
	}
	if res.ID != common.MasterTaskID || res.RunID == "" {
		t.Fatalf("unexpected start result %+v", res)
	}

	f := warpflow.Filter{Type: common.DownloadTaskType}
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := c.CountTasks(ctx, f)
		if err != nil {
			t.Fatalf("CountTasks: %v", err)
		}
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 workers, last count %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	tasks, err := c.ListTasks(ctx, warpflow.Filter{IDPrefix: common.DownloadTaskID("o")})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != common.DownloadTaskID("one") {
		t.Fatalf("unexpected prefix listing %+v", tasks)
	}

	ok, err := c.CancelTask(ctx, common.DownloadTaskID("one"))
	if err != nil || !ok {
		t.Fatalf("CancelTask = %v, %v", ok, err)
	}
	ok, err = c.CancelTask(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("CancelTask(missing) = %v, %v", ok, err)
	}
}

func TestClient_InvalidDeclaration(t *testing.T) {
	srv, _ := startDaemon(t)
	c := newTestClient(t, srv.URL, secret)
	_, err := c.StartMaster(context.Background(), common.StartParams{Files: []common.FileParam{{SHA256: "a"}, {SHA256: "a"}}})
	if err == nil {
		t.Fatal("expected an error for a duplicate declaration")
	}
}

func TestClient_NotifyQueues(t *testing.T) {
	srv, e := startDaemon(t)
	c := newTestClient(t, srv.URL, secret)
	if err := c.Notify(context.Background(), "abc"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n := e.PendingSignals()[common.MasterTaskID]; n != 1 {
		t.Fatalf("expected one queued notification, got %d", n)
	}
}

func TestClient_WrongSecret(t *testing.T) {
	srv, _ := startDaemon(t)
	c := newTestClient(t, srv.URL, "wrong")
	if _, err := c.GetDaemonVersion(context.Background()); err == nil {
		t.Fatal("expected an error with a wrong secret")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Watch(ctx, func(warpflow.Event) {}); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized from Watch, got %v", err)
	}
}

func TestClient_Watch(t *testing.T) {
	srv, e := startDaemon(t)
	c := newTestClient(t, srv.URL, secret)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan warpflow.Event, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- c.Watch(ctx, func(ev warpflow.Event) { got <- ev })
	}()

	// Spawn until an event arrives; the first spawn may race the
	// websocket registration.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case ev := <-got:
			if ev.Type == "" || ev.TaskID == "" {
				t.Fatalf("incomplete event %+v", ev)
			}
			cancel()
			if err := <-errc; err != nil {
				t.Fatalf("Watch returned %v after cancel", err)
			}
			return
		case <-tick.C:
			_, _ = e.Spawn(context.Background(), warpflow.StartOptions{
				ID:    common.DownloadTaskID(string(rune('a' + i%26))),
				Type:  common.DownloadTaskType,
				Input: common.Item{SHA256: "w"},
			})
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}

func TestCheckVersionMismatch(t *testing.T) {
	srv, _ := startDaemon(t)
	c := newTestClient(t, srv.URL, secret)
	var buf bytes.Buffer

	c.CheckVersionMismatch(context.Background(), &buf, "9.9.9")
	if buf.Len() != 0 {
		t.Fatalf("matching versions should not warn, got %q", buf.String())
	}
	c.CheckVersionMismatch(context.Background(), &buf, "1.0.0")
	if !bytes.Contains(buf.Bytes(), []byte("differs")) {
		t.Fatalf("expected mismatch warning, got %q", buf.String())
	}

	buf.Reset()
	t.Setenv(VersionCheckEnv, "1")
	c.CheckVersionMismatch(context.Background(), &buf, "1.0.0")
	if buf.Len() != 0 {
		t.Fatal("warning should be suppressed")
	}
}

func TestBearerTransport(t *testing.T) {
	var seen string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		if seen != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	hc := &http.Client{Transport: &bearerTransport{base: http.DefaultTransport, token: "tok"}}
	resp, err := hc.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if seen != "Bearer tok" {
		t.Fatalf("header not set, got %q", seen)
	}

	hc = &http.Client{Transport: &bearerTransport{base: http.DefaultTransport, token: "bad"}}
	if _, err := hc.Get(srv.URL); err == nil {
		t.Fatal("expected ErrUnauthorized")
	}
}
