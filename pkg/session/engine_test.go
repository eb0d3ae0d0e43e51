package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRequiresServerAddress(t *testing.T) {
	e := New(Config{Opener: &fakeOpener{}})
	err := e.Connect()
	require.ErrorIs(t, err, ErrIllegalState)
	assert.Equal(t, StatusDisconnected, e.Status())
}

func TestConnectSensesWebSocketStreaming(t *testing.T) {
	h := newHarness(t)
	h.connect()

	pre := h.opener.last()
	require.False(t, pre.ws)
	assert.Equal(t, testServer+"/lightstreamer/create_session.txt?LS_protocol=TLCP-2.5.0", pre.url)
	assert.Contains(t, pre.body, "LS_polling=true&LS_polling_millis=0&LS_idle_millis=0")
	assert.NotContains(t, pre.body, "LS_old_session")

	pre.line(conok)
	assert.Equal(t, StatusStreamSensing, h.e.Status())
	assert.Equal(t, "S1", h.e.Details().SessionID())
	assert.Equal(t, 5*time.Second, h.e.Options().KeepaliveInterval())

	pre.line("LOOP,0")
	ws := h.opener.last()
	require.True(t, ws.ws)
	assert.Equal(t, "ws://push.example.com/lightstreamer", ws.url)
	assert.True(t, pre.isDisposed())

	frames := ws.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, "wsok", frames[0])
	assert.True(t, strings.HasPrefix(frames[1], "bind_session\r\nLS_session=S1"), frames[1])
	assert.NotContains(t, frames[1], "LS_recovery_from")

	ws.line("WSOK", conok)
	assert.Equal(t, []string{StatusConnecting, StatusStreamSensing, StatusWSStreaming}, h.statuses())
}

func TestConnectIsNoopWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.streamOverWS(conok)
	n := h.opener.count()

	h.connect()
	assert.Equal(t, n, h.opener.count())
	assert.Equal(t, StatusWSStreaming, h.e.Status())
}

func TestStreamSenseFallsBackToHTTPStreaming(t *testing.T) {
	h := newHarness(t)
	pre := h.preflight()
	pre.line("LOOP,0")
	ws := h.opener.last()
	require.True(t, ws.ws)

	ws.fail()
	c := h.opener.last()
	require.False(t, c.ws)
	assert.Equal(t, testServer+"/lightstreamer/bind_session.txt?LS_protocol=TLCP-2.5.0", c.url)
	assert.Contains(t, c.body, "LS_session=S1")
	assert.Contains(t, c.body, "LS_content_length=50000000")

	c.line(conok)
	assert.Equal(t, []string{StatusConnecting, StatusStreamSensing, StatusHTTPStreaming}, h.statuses())
}

func TestStreamSenseTimesOutSilentCandidate(t *testing.T) {
	h := newHarness(t)
	pre := h.preflight()
	pre.line("LOOP,0")
	ws := h.opener.last()

	h.advance(MinConnectTimeout - time.Millisecond)
	assert.Same(t, ws, h.opener.last())

	h.advance(time.Millisecond)
	c := h.opener.last()
	assert.NotSame(t, ws, c)
	assert.False(t, c.ws)
	assert.True(t, ws.isDisposed())
	assert.Contains(t, c.url, "/lightstreamer/bind_session.txt")

	// A late answer from the abandoned socket is ignored.
	ws.line("WSOK", conok)
	assert.Equal(t, StatusStreamSensing, h.e.Status())

	c.line(conok)
	assert.Equal(t, StatusHTTPStreaming, h.e.Status())
}

func TestNoTransportAvailableRetriesWithNewSession(t *testing.T) {
	h := newHarness(t)
	pre := h.preflight()
	pre.line("LOOP,0")

	h.opener.last().fail() // WS streaming
	httpStream := h.opener.last()
	assert.NotContains(t, httpStream.body, "LS_polling=true")
	httpStream.fail()
	httpPoll := h.opener.last()
	assert.Contains(t, httpPoll.body, "LS_polling=true")
	httpPoll.fail()

	assert.Equal(t, StatusWillRetry, h.e.Status())
	assert.Equal(t, "", h.e.Details().SessionID())

	h.advance(DefaultFirstRetryMaxDelay)
	c := h.opener.last()
	assert.Contains(t, c.url, "/lightstreamer/create_session.txt")
	assert.Contains(t, c.body, "LS_old_session=S1")
	assert.Equal(t, []string{
		StatusConnecting, StatusStreamSensing, StatusWillRetry, StatusConnecting,
	}, h.statuses())
}

func TestForcedCombinationSkipsStreamSense(t *testing.T) {
	h := newHarness(t, func(e *Engine) {
		require.NoError(t, e.Options().SetForcedTransport(TransportWSStreaming))
	})
	h.connect()

	ws := h.opener.last()
	require.True(t, ws.ws)
	frames := ws.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, "wsok", frames[0])
	assert.True(t, strings.HasPrefix(frames[1], "create_session\r\n"))
	assert.NotContains(t, frames[1], "LS_polling")

	ws.line("WSOK", conok)
	assert.Equal(t, []string{StatusConnecting, StatusWSStreaming}, h.statuses())
	assert.Equal(t, 1, h.opener.count())
}

func TestForcedHTTPNeverOpensWebSocket(t *testing.T) {
	h := newHarness(t, func(e *Engine) {
		require.NoError(t, e.Options().SetForcedTransport(TransportHTTP))
	})
	pre := h.preflight()
	pre.line("LOOP,0")

	c := h.opener.last()
	require.False(t, c.ws)
	assert.Contains(t, c.body, "LS_content_length=")
	c.line(conok)
	assert.Equal(t, StatusHTTPStreaming, h.e.Status())

	for _, conn := range h.opener.conns {
		assert.False(t, conn.ws, conn.url)
	}
}

func TestHTTPPollingWaitsBetweenPolls(t *testing.T) {
	h := newHarness(t, func(e *Engine) {
		require.NoError(t, e.Options().SetForcedTransport(TransportHTTPPolling))
		require.NoError(t, e.Options().SetPollingInterval(2*time.Second))
	})
	h.connect()
	c := h.opener.last()
	assert.Contains(t, c.body, "LS_polling=true&LS_polling_millis=2000")

	c.line(conok, "LOOP,2000")
	assert.Equal(t, StatusHTTPPolling, h.e.Status())
	c.close()
	assert.Same(t, c, h.opener.last())

	h.advance(2 * time.Second)
	next := h.opener.last()
	require.NotSame(t, c, next)
	assert.Contains(t, next.url, "/lightstreamer/bind_session.txt")
	assert.Contains(t, next.body, "LS_polling=true")

	next.line(conok)
	assert.Equal(t, StatusHTTPPolling, h.e.Status())
}

func TestControlLinkRedirectsBinds(t *testing.T) {
	h := newHarness(t, func(e *Engine) {
		require.NoError(t, e.Options().SetForcedTransport(TransportHTTP))
	})
	h.connect()
	pre := h.opener.last()
	pre.line("CONOK,S1,50000,5000,node7.example.com", "LOOP,0")

	c := h.opener.last()
	assert.True(t, strings.HasPrefix(c.url, "http://node7.example.com/lightstreamer/bind_session.txt"), c.url)
	assert.Equal(t, "http://node7.example.com", h.e.Details().ServerInstanceAddress())
	assert.Contains(t, h.events(), "prop:"+PropServerInstanceAddress)
}

func TestServerRefusalDisconnects(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.opener.last().line("CONERR,60,License limit reached")

	assert.Equal(t, StatusDisconnected, h.e.Status())
	assert.Equal(t, []string{
		"status:" + StatusConnecting,
		"status:" + StatusDisconnected,
		"error:60:License limit reached",
	}, h.only("status:", "error:"))

	// No retry is scheduled.
	n := h.opener.count()
	h.advance(time.Minute)
	assert.Equal(t, n, h.opener.count())
}

func TestRetryableServerErrorRetries(t *testing.T) {
	h := newHarness(t)
	ws := h.streamOverWS(conok)
	ws.line("END,41,session closed")

	assert.Equal(t, StatusWillRetry, h.e.Status())
	assert.Empty(t, h.only("error:"))

	h.advance(DefaultFirstRetryMaxDelay)
	assert.Equal(t, StatusConnecting, h.e.Status())
	assert.Contains(t, h.opener.last().body, "LS_old_session=S1")
}

func TestMalformedLineLosesSession(t *testing.T) {
	h := newHarness(t)
	ws := h.streamOverWS(conok)
	ws.line("BOGUS,1,2")
	assert.Equal(t, StatusWillRetry, h.e.Status())
	assert.True(t, ws.isDisposed())
}

func TestDisconnectDestroysSession(t *testing.T) {
	h := newHarness(t)
	ws := h.streamOverWS(conok)
	h.events()

	h.e.Disconnect()
	assert.True(t, ws.isDisposed())
	assert.Equal(t, StatusDisconnected, h.e.Status())
	assert.Equal(t, "", h.e.Details().SessionID())

	destroy := h.opener.last()
	assert.Equal(t, testServer+"/lightstreamer/control.txt?LS_protocol=TLCP-2.5.0&LS_session=S1", destroy.url)
	assert.Contains(t, destroy.body, "LS_op=destroy")
	assert.Equal(t, []string{StatusDisconnected}, h.statuses())

	// Timers of the old session are gone.
	h.advance(time.Minute)
	assert.Equal(t, StatusDisconnected, h.e.Status())
}

func TestDisconnectAbortsQueuedMessagesBeforeStatus(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.events()

	ml := messageRecorder{log: h.log}
	for _, text := range []string{"m1", "m2", "m3"} {
		require.NoError(t, h.e.SendMessage(messageRequest(text, ml)))
	}
	assert.Empty(t, h.events())

	h.e.Disconnect()
	assert.Equal(t, []string{
		"abort:m1:false",
		"abort:m2:false",
		"abort:m3:false",
		"status:" + StatusDisconnected,
	}, h.only("abort:", "status:"))
}

func TestMessageSubmittedWhileDisconnectedIsAborted(t *testing.T) {
	h := newHarness(t)
	ml := messageRecorder{log: h.log}
	require.NoError(t, h.e.SendMessage(messageRequest("early", ml)))
	assert.Equal(t, []string{"abort:early:false"}, h.events())
}

func TestFailedConnectAbortsWaitingMessagesInOrder(t *testing.T) {
	h := newHarness(t)
	h.connect()
	ml := messageRecorder{log: h.log}
	first := messageRequest("first", ml)
	first.Sequence = "S"
	require.NoError(t, h.e.SendMessage(first))
	assert.Empty(t, h.only("abort:"))

	h.opener.last().fail()
	require.Equal(t, StatusWillRetry, h.e.Status())
	assert.Equal(t, []string{"abort:first:false"}, h.only("abort:"))

	second := messageRequest("second", ml)
	second.Sequence = "S"
	require.NoError(t, h.e.SendMessage(second))
	assert.Equal(t, []string{"abort:second:false"}, h.only("abort:"))
}

func TestConnectDuringRecoveryStartsNewSession(t *testing.T) {
	h := newHarness(t)
	ws := h.streamOverWS(conok)
	ws.fail()
	require.Equal(t, StatusTryingRecovery, h.e.Status())
	h.events()

	h.connect()
	assert.Equal(t, StatusConnecting, h.e.Status())
	c := h.opener.last()
	assert.Contains(t, c.url, "/lightstreamer/create_session.txt")
	assert.Contains(t, c.body, "LS_old_session=S1")

	// The abandoned recovery does not fire.
	h.advance(0)
	assert.Same(t, c, h.opener.last())
}

func TestCloseMakesEngineUnusable(t *testing.T) {
	h := newHarness(t)
	h.streamOverWS(conok)
	h.e.Close()
	assert.Equal(t, StatusDisconnected, h.e.Status())
	assert.ErrorIs(t, h.e.Connect(), ErrClosed)
	assert.ErrorIs(t, h.e.SendMessage(messageRequest("late", nil)), ErrClosed)
}

func TestListenersReceiveStartAndEnd(t *testing.T) {
	h := newHarness(t)
	l := &recordingListener{log: h.log}
	h.e.AddListener(l)
	h.e.AddListener(l)
	assert.Equal(t, []string{"listenStart"}, h.events())
	assert.Len(t, h.e.Listeners(), 2)

	h.e.RemoveListener(l)
	assert.Equal(t, []string{"listenEnd"}, h.events())
	assert.Len(t, h.e.Listeners(), 1)
}

func TestServerEchoesNotifyOnChange(t *testing.T) {
	h := newHarness(t)
	ws := h.streamOverWS(conok)
	h.events()

	ws.line("SERVNAME,Lightstreamer HTTP Server", "CLIENTIP,127.0.0.1", "CLIENTIP,127.0.0.1")
	assert.Equal(t, []string{
		"prop:" + PropServerSocketName,
		"prop:" + PropClientIP,
	}, h.events())
	assert.Equal(t, "Lightstreamer HTTP Server", h.e.Details().ServerSocketName())
	assert.Equal(t, "127.0.0.1", h.e.Details().ClientIP())
}
