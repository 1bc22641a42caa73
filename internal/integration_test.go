// Package internal contains integration tests that verify the packages
// work together correctly. These tests run two complete peers against
// each other over real TCP connections, the same way two mirrorpeer
// processes pair up in production.
package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/berrycraft/mirrorpeer/internal/coordinator"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/scenario"
	"github.com/berrycraft/mirrorpeer/internal/selection"
	"github.com/berrycraft/mirrorpeer/internal/session"
	"github.com/berrycraft/mirrorpeer/internal/transport"
)

type peer struct {
	name  string
	link  *transport.Conn
	coord *coordinator.Coordinator
}

// startPeerPair brings up two fully wired peers on ephemeral local
// ports, with each transport dialing the other's listener.
func startPeerPair(t *testing.T) (*peer, *peer) {
	t.Helper()
	log := logging.NopLogger()

	mk := func(name, peerName string) *peer {
		link := transport.New(transport.Config{ListenAddr: "127.0.0.1:0"}, log)
		coord := coordinator.New(name, peerName, link, log)
		link.SetHandler(coord.Dispatch)
		if err := link.Listen(); err != nil {
			t.Fatalf("%s listen: %v", name, err)
		}
		return &peer{name: name, link: link, coord: coord}
	}

	alice := mk("alice", "bob")
	bob := mk("bob", "alice")
	t.Cleanup(func() {
		alice.coord.Close()
		bob.coord.Close()
		alice.link.Close()
		bob.link.Close()
	})

	dial := func(p *peer, addr string) {
		t.Helper()
		p.link.SetPeerAddr(addr)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.link.Dial(ctx); err != nil {
			t.Fatalf("%s dial %s: %v", p.name, addr, err)
		}
	}
	dial(alice, bob.link.Addr())
	dial(bob, alice.link.Addr())
	return alice, bob
}

// TestFullSessionOverTCP runs a complete smoke-test session between two
// peers using the builtin scenarios over real sockets.
func TestFullSessionOverTCP(t *testing.T) {
	alice, bob := startPeerPair(t)

	cfg := session.Config{
		Episodes:    3,
		Seed:        0x5eed,
		SmokeTest:   true,
		FlatWorld:   true,
		StopTimeout: 10 * time.Second,
	}
	run := func(p *peer) (session.Summary, error) {
		reg := scenario.Builtin()
		driver := session.New(cfg, p.coord, reg, selection.NewCatalog(reg), nil, logging.NopLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return driver.Run(ctx)
	}

	var sa, sb session.Summary
	var ea, eb error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sa, ea = run(alice) }()
	go func() { defer wg.Done(); sb, eb = run(bob) }()
	wg.Wait()

	if ea != nil || eb != nil {
		t.Fatalf("session errors: alice=%v bob=%v", ea, eb)
	}
	if sa.Completed != 3 || sa.Aborted != 0 {
		t.Errorf("alice summary = %+v", sa)
	}
	if sb.Completed != 3 || sb.Aborted != 0 {
		t.Errorf("bob summary = %+v", sb)
	}
	for i := range sa.Statuses {
		if sa.Statuses[i].Scenario != sb.Statuses[i].Scenario {
			t.Errorf("episode %d scenario diverged: %s vs %s",
				sa.Statuses[i].Episode, sa.Statuses[i].Scenario, sb.Statuses[i].Scenario)
		}
	}

	// Nothing may linger on either coordinator after the session drain.
	for _, p := range []*peer{alice, bob} {
		if n := p.coord.Pending(); n != 0 {
			t.Errorf("%s: %d pending registrations after session", p.name, n)
		}
		if n := p.coord.InFlight(); n != 0 {
			t.Errorf("%s: %d in-flight handlers after session", p.name, n)
		}
	}
}

// TestLinkDropEndsSession verifies that losing the counterpart's
// connection mid-session surfaces as an abort or interruption instead of
// a hang.
func TestLinkDropEndsSession(t *testing.T) {
	alice, bob := startPeerPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice.link.OnDisconnect(func(error) { cancel() })

	reg := scenario.Builtin()
	driver := session.New(session.Config{
		Episodes:    50,
		Seed:        1,
		SmokeTest:   true,
		FlatWorld:   true,
		StopTimeout: 2 * time.Second,
	}, alice.coord, reg, selection.NewCatalog(reg), nil, logging.NopLogger())

	done := make(chan struct{})
	var summary session.Summary
	var runErr error
	go func() {
		defer close(done)
		summary, runErr = driver.Run(ctx)
	}()

	// Let the first exchanges happen, then kill bob's side entirely.
	time.Sleep(300 * time.Millisecond)
	bob.coord.Close()
	bob.link.Close()

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatal("session did not finish after link drop")
	}
	if runErr == nil && summary.Aborted == 0 {
		t.Errorf("no abort surfaced after link drop: summary=%+v", summary)
	}
}
