package chat

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledzpl/tcpchat/internal/logging"
)

func runScripted(t *testing.T, router *Router, opts Options, input string) (*session, *recordingConn) {
	t.Helper()
	conn := &recordingConn{in: strings.NewReader(input), port: 51000}
	sess := newSession(router, conn, opts, logging.ForTest(t))
	sess.run(context.Background())
	return sess, conn
}

func TestSessionLifecycleQuit(t *testing.T) {
	router := newTestRouter(t)
	watcher, watcherConn := newTestPeer(t)
	router.Registry().Join(watcher, "watcher")

	sess, conn := runScripted(t, router, Options{}, "alice\nhello\n/quit\nnever seen\n")

	require.Equal(t, StateClosed, sess.State())
	require.True(t, conn.IsClosed())
	require.Equal(t, namePrompt+welcomeNotice, conn.Output())
	require.Equal(t, joinNotice("alice")+"alice> hello\n"+leaveNotice("alice"), watcherConn.Output())
	require.Equal(t, 1, router.Registry().Len())
}

func TestSessionEOFDuringHandshakeNeverRegisters(t *testing.T) {
	router := newTestRouter(t)
	watcher, watcherConn := newTestPeer(t)
	router.Registry().Join(watcher, "watcher")

	sess, conn := runScripted(t, router, Options{}, "")

	require.Equal(t, StateClosed, sess.State())
	require.Equal(t, namePrompt, conn.Output())
	require.Empty(t, watcherConn.Output(), "no join or leave for an unnamed session")
}

func TestSessionEmptyNameGetsPlaceholder(t *testing.T) {
	router := newTestRouter(t)
	watcher, watcherConn := newTestPeer(t)
	router.Registry().Join(watcher, "watcher")

	runScripted(t, router, Options{}, "   \nhey\n")

	want := placeholderName("127.0.0.1:51000")
	require.Equal(t, joinNotice(want)+chatLine(want, "hey")+leaveNotice(want), watcherConn.Output())
}

func TestSessionMalformedWhisperRepliesUsageOnly(t *testing.T) {
	router := newTestRouter(t)
	bob, bobConn := newTestPeer(t)
	router.Registry().Join(bob, "bob")

	_, conn := runScripted(t, router, Options{}, "alice\n/w onlyname\n\n/quit\n")

	require.Equal(t, namePrompt+welcomeNotice+whisperUsage, conn.Output())
	require.Equal(t, joinNotice("alice")+leaveNotice("alice"), bobConn.Output())
}

func TestSessionWhisperAndBroadcast(t *testing.T) {
	router := newTestRouter(t)
	bob, bobConn := newTestPeer(t)
	carol, carolConn := newTestPeer(t)
	router.Registry().Join(bob, "bob")
	router.Registry().Join(carol, "carol")

	_, conn := runScripted(t, router, Options{}, "alice\n/w bob psst\nall\n")

	require.Equal(t, namePrompt+welcomeNotice+whisperEcho("bob", "psst"), conn.Output())
	require.Equal(t, joinNotice("alice")+whisperDelivery("alice", "psst")+chatLine("alice", "all")+leaveNotice("alice"), bobConn.Output())
	require.Equal(t, joinNotice("alice")+chatLine("alice", "all")+leaveNotice("alice"), carolConn.Output())
}

func TestSessionInvalidUTF8IsReplaced(t *testing.T) {
	router := newTestRouter(t)
	bob, bobConn := newTestPeer(t)
	router.Registry().Join(bob, "bob")

	runScripted(t, router, Options{}, "alice\nab\xffc\n/quit\n")

	require.Contains(t, bobConn.Output(), "alice> ab\uFFFDc\n")
}

func TestSessionRateLimit(t *testing.T) {
	router := newTestRouter(t)
	bob, bobConn := newTestPeer(t)
	router.Registry().Join(bob, "bob")

	opts := Options{RatePerSecond: 0.001, RateBurst: 1}
	_, conn := runScripted(t, router, opts, "alice\none\ntwo\n/quit\n")

	require.Equal(t, namePrompt+welcomeNotice+rateLimitedMsg, conn.Output())
	require.Equal(t, joinNotice("alice")+chatLine("alice", "one")+leaveNotice("alice"), bobConn.Output())
}

func TestSessionOwnWriteFailureIsFatal(t *testing.T) {
	router := newTestRouter(t)
	conn := &recordingConn{in: strings.NewReader("alice\nhello\n")}
	conn.Fail()
	sess := newSession(router, conn, Options{}, logging.ForTest(t))
	sess.run(context.Background())

	require.Equal(t, StateClosed, sess.State())
	require.Zero(t, router.Registry().Len())
}

func TestSessionLineTooLongEndsSession(t *testing.T) {
	router := newTestRouter(t)
	bob, bobConn := newTestPeer(t)
	router.Registry().Join(bob, "bob")

	long := strings.Repeat("x", 64)
	runScripted(t, router, Options{MaxLineBytes: 32}, "alice\n"+long+"\nafter\n")

	require.Equal(t, joinNotice("alice")+leaveNotice("alice"), bobConn.Output())
}

func TestSessionContextCancelClosesPeer(t *testing.T) {
	router := newTestRouter(t)
	pr, pw := io.Pipe()
	conn := &recordingConn{in: pr}
	sess := newSession(router, conn, Options{}, logging.ForTest(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.run(ctx)
	}()

	_, err := pw.Write([]byte("alice\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.State() == StateActive }, time.Second, 5*time.Millisecond)

	// recordingConn.Close does not unblock Read, so close the input too.
	cancel()
	require.Eventually(t, conn.IsClosed, time.Second, 5*time.Millisecond)
	_ = pw.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
	require.Equal(t, StateClosed, sess.State())
	require.Zero(t, router.Registry().Len())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "handshake", StateHandshake.String())
	require.Equal(t, "unknown", State(42).String())
}
