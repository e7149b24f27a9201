package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Target string
	Args   []json.RawMessage
}

// fakeHub speaks the server side of the hub protocol over httptest
type fakeHub struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu              sync.Mutex
	calls           []recordedCall
	conns           []*hubPeer
	connects        int
	failTargets     map[string]string
	held            map[string]chan struct{}
	rejectHandshake string
	refuse          bool
}

type hubPeer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *hubPeer) send(v interface{}) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{
		t:           t,
		failTargets: make(map[string]string),
		held:        make(map[string]chan struct{}),
	}
	h.server = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(func() {
		h.dropAll()
		h.server.Close()
	})
	return h
}

func (h *fakeHub) url() string {
	return h.server.URL + "/hubs/translation"
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	refuse := h.refuse
	reject := h.rejectHandshake
	h.mu.Unlock()

	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &hubPeer{ws: ws}
	defer ws.Close()

	// handshake
	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	if reject != "" {
		_ = peer.send(handshakeResponse{Error: reject})
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, peer)
	h.connects++
	h.mu.Unlock()

	if err := peer.send(struct{}{}); err != nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range splitFrames(data) {
			env, err := decodeEnvelope(frame)
			if err != nil {
				continue
			}
			switch env.Type {
			case InvocationMessage:
				h.mu.Lock()
				h.calls = append(h.calls, recordedCall{Target: env.Target, Args: env.Arguments})
				failure := h.failTargets[env.Target]
				release := h.held[env.Target]
				h.mu.Unlock()
				if env.InvocationID == "" {
					continue
				}
				completion := envelope{Type: CompletionMessage, InvocationID: env.InvocationID, Error: failure}
				if release != nil {
					go func() {
						<-release
						_ = peer.send(completion)
					}()
					continue
				}
				_ = peer.send(completion)
			case CloseMessage:
				return
			}
		}
	}
}

func (h *fakeHub) push(target string, args ...interface{}) {
	h.mu.Lock()
	require.NotEmpty(h.t, h.conns)
	peer := h.conns[len(h.conns)-1]
	h.mu.Unlock()
	require.NoError(h.t, peer.send(invocation{Type: InvocationMessage, Target: target, Arguments: args}))
}

func (h *fakeHub) dropAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for _, p := range conns {
		p.ws.Close()
	}
}

func (h *fakeHub) fail(target, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failTargets[target] = message
}

// hold delays completions for target until the returned func is called
func (h *fakeHub) hold(target string) func() {
	release := make(chan struct{})
	h.mu.Lock()
	h.held[target] = release
	h.mu.Unlock()

	var once sync.Once
	stop := func() { once.Do(func() { close(release) }) }
	h.t.Cleanup(stop)
	return stop
}

func (h *fakeHub) setRefuse(refuse bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuse = refuse
}

func (h *fakeHub) callsTo(target string) []recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []recordedCall
	for _, c := range h.calls {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHub) connectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

func (h *fakeHub) waitCalls(target string, n int) []recordedCall {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.callsTo(target)) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.callsTo(target)
}
