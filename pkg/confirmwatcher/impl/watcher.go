package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const (
	methodSubscribe    = "gateway_subscribe"
	methodUnsubscribe  = "gateway_unsubscribe"
	methodNotification = "gateway_notification"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notificationParams struct {
	Subscription uint64          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type outcome struct {
	result confirmwatcher.Result
	err    error
}

// subscription tracks one registered wait. It lives in at most one of the
// by-local-id and by-server-id maps at any instant; the remap happens under the
// watcher mutex when the acknowledgement arrives.
type subscription struct {
	localID     uint64
	serverID    uint64
	hasServerID bool
	target      string
	oneShot     bool

	// outcome receives exactly one value for one-shot subscriptions.
	outcome chan outcome
	// events receives notifications for standing subscriptions.
	events chan<- confirmwatcher.Result
}

// WSWatcher maintains a websocket live-update channel to a remote node and
// multiplexes confirmation waits over it.
type WSWatcher struct {
	log      zerolog.Logger
	endpoint string
	config   confirmwatcher.Config

	state  *atomic.Int32
	nextID *atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	byLocal  map[uint64]*subscription
	byServer map[uint64]*subscription
	standing map[uint64]*subscription

	writeMu sync.Mutex

	quit      chan struct{}
	closeOnce sync.Once

	watcherMetrics
}

var _ confirmwatcher.Watcher = (*WSWatcher)(nil)

// NewWSWatcher creates a watcher for the given websocket endpoint.
// It starts disconnected; call Connect to establish the channel.
func NewWSWatcher(chain, endpoint string, config confirmwatcher.Config) *WSWatcher {
	log := logger.With().
		Str("component", "confirmwatcher").
		Str("chain", chain).
		Logger()

	w := &WSWatcher{
		log:      log,
		endpoint: endpoint,
		config:   config,
		state:    atomic.NewInt32(int32(confirmwatcher.StateDisconnected)),
		nextID:   atomic.NewUint64(0),
		byLocal:  map[uint64]*subscription{},
		byServer: map[uint64]*subscription{},
		standing: map[uint64]*subscription{},
		quit:     make(chan struct{}),
	}
	if err := w.initMetrics(chain); err != nil {
		log.Error().Err(err).Msg("initializing metrics instruments")
	}

	return w
}

// Connect dials the endpoint and starts routing messages.
func (w *WSWatcher) Connect(ctx context.Context) error {
	w.setState(confirmwatcher.StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		w.setState(confirmwatcher.StateDisconnected)
		return fmt.Errorf("dialing %s: %s", w.endpoint, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.setState(confirmwatcher.StateConnected)

	go w.readLoop(conn)

	w.log.Info().Str("endpoint", w.endpoint).Msg("live-update channel connected")
	return nil
}

// State returns the current connection state.
func (w *WSWatcher) State() confirmwatcher.State {
	return confirmwatcher.State(w.state.Load())
}

// Close tears the connection down for good; no reconnection follows.
func (w *WSWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.quit)
		w.mu.Lock()
		conn := w.conn
		w.conn = nil
		oneShots := make([]*subscription, 0, len(w.byLocal)+len(w.byServer))
		for _, sub := range w.byLocal {
			if sub.oneShot {
				oneShots = append(oneShots, sub)
			}
		}
		for _, sub := range w.byServer {
			if sub.oneShot {
				oneShots = append(oneShots, sub)
			}
		}
		w.byLocal = map[uint64]*subscription{}
		w.byServer = map[uint64]*subscription{}
		w.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		for _, sub := range oneShots {
			sub.outcome <- outcome{err: confirmwatcher.ErrSubscriptionLost}
		}
		w.setState(confirmwatcher.StateDisconnected)
	})
}

// Watch registers a one-shot wait for a notification about target.
func (w *WSWatcher) Watch(ctx context.Context, target string, timeout time.Duration) (confirmwatcher.Result, error) {
	if w.State() != confirmwatcher.StateConnected {
		return confirmwatcher.Result{}, confirmwatcher.ErrDisconnected
	}

	sub := &subscription{
		localID: w.nextID.Inc(),
		target:  target,
		oneShot: true,
		outcome: make(chan outcome, 1),
	}

	w.mu.Lock()
	w.byLocal[sub.localID] = sub
	w.mu.Unlock()

	if err := w.writeMessage(wireMessage{
		JSONRPC: "2.0",
		ID:      &sub.localID,
		Method:  methodSubscribe,
		Params:  mustParams(target),
	}); err != nil {
		w.unregister(sub)
		return confirmwatcher.Result{}, fmt.Errorf("sending subscribe request: %s", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-sub.outcome:
		return o.result, o.err
	case <-timer.C:
		serverID, mapped := w.unregister(sub)
		if mapped {
			w.sendUnsubscribe(serverID)
		}
		return confirmwatcher.Result{Confirmed: false}, nil
	case <-ctx.Done():
		serverID, mapped := w.unregister(sub)
		if mapped {
			w.sendUnsubscribe(serverID)
		}
		return confirmwatcher.Result{}, ctx.Err()
	}
}

// Standing registers a persistent subscription that survives reconnects.
func (w *WSWatcher) Standing(target string, ch chan<- confirmwatcher.Result) (func(), error) {
	sub := &subscription{
		localID: w.nextID.Inc(),
		target:  target,
		events:  ch,
	}
	regID := sub.localID

	w.mu.Lock()
	w.standing[regID] = sub
	w.byLocal[sub.localID] = sub
	w.mu.Unlock()

	if w.State() == confirmwatcher.StateConnected {
		if err := w.writeMessage(wireMessage{
			JSONRPC: "2.0",
			ID:      &sub.localID,
			Method:  methodSubscribe,
			Params:  mustParams(target),
		}); err != nil {
			w.mu.Lock()
			delete(w.standing, regID)
			delete(w.byLocal, sub.localID)
			w.mu.Unlock()
			return nil, fmt.Errorf("sending subscribe request: %s", err)
		}
	}

	cancel := func() {
		w.mu.Lock()
		delete(w.standing, regID)
		delete(w.byLocal, sub.localID)
		serverID, mapped := sub.serverID, sub.hasServerID
		if mapped {
			delete(w.byServer, serverID)
		}
		w.mu.Unlock()
		if mapped {
			w.sendUnsubscribe(serverID)
		}
	}
	return cancel, nil
}

func (w *WSWatcher) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleConnLost(conn, err)
			return
		}
		w.route(data)
	}
}

func (w *WSWatcher) route(data []byte) {
	var msg wireMessage
	if err := codec.Unmarshal(data, &msg); err != nil {
		w.log.Warn().Err(err).Msg("dropping undecodable message")
		return
	}

	switch {
	case msg.Method == methodNotification:
		w.routeNotification(msg)
	case msg.ID != nil && msg.Error != nil:
		w.routeError(msg)
	case msg.ID != nil && msg.Result != nil:
		w.routeAck(msg)
	default:
		w.log.Debug().Msg("ignoring unrecognized message")
	}
}

// routeAck remaps the subscription from its local id to the server-assigned id.
func (w *WSWatcher) routeAck(msg wireMessage) {
	var serverID uint64
	if err := codec.Unmarshal(msg.Result, &serverID); err != nil {
		// Unsubscribe acknowledgements carry a boolean result; nothing to route.
		w.log.Debug().Uint64("id", *msg.ID).Msg("ignoring non-subscription ack")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sub, ok := w.byLocal[*msg.ID]
	if !ok {
		w.log.Debug().Uint64("id", *msg.ID).Msg("ack for unknown local id, dropping")
		return
	}
	delete(w.byLocal, sub.localID)
	sub.serverID = serverID
	sub.hasServerID = true
	w.byServer[serverID] = sub
}

func (w *WSWatcher) routeError(msg wireMessage) {
	w.mu.Lock()
	sub, ok := w.byLocal[*msg.ID]
	if ok {
		delete(w.byLocal, sub.localID)
	}
	w.mu.Unlock()

	if !ok {
		w.log.Debug().Uint64("id", *msg.ID).Msg("error for unknown local id, dropping")
		return
	}
	if sub.oneShot {
		sub.outcome <- outcome{err: fmt.Errorf("subscribe rejected: %s", msg.Error.Message)}
	}
}

func (w *WSWatcher) routeNotification(msg wireMessage) {
	var params notificationParams
	if err := codec.Unmarshal(msg.Params, &params); err != nil {
		w.log.Warn().Err(err).Msg("dropping undecodable notification")
		return
	}

	w.mu.Lock()
	sub, ok := w.byServer[params.Subscription]
	if ok && sub.oneShot {
		delete(w.byServer, params.Subscription)
	}
	w.mu.Unlock()

	if !ok {
		// A notification for a server id that never completed its remap is a
		// protocol violation; guard by dropping it rather than guessing.
		w.mDroppedNotifications.Add(context.Background(), 1, w.mBaseLabels...)
		w.log.Warn().
			Uint64("serverId", params.Subscription).
			Msg("notification for unmapped server id, dropping")
		return
	}

	if sub.oneShot {
		sub.outcome <- outcome{result: confirmwatcher.Result{Confirmed: true, Data: params.Result}}
		w.sendUnsubscribe(params.Subscription)
		return
	}

	select {
	case sub.events <- confirmwatcher.Result{Confirmed: true, Data: params.Result}:
	default:
		w.log.Warn().Str("target", sub.target).Msg("standing subscriber is slow, dropping event")
	}
}

// handleConnLost rejects every in-flight wait and, unless the watcher was
// closed, hands control to the reconnect loop. One-shot waits are not restored
// after reconnect: their callers already got a rejection and fall back to polling.
func (w *WSWatcher) handleConnLost(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if w.conn != conn {
		// A newer connection already took over.
		w.mu.Unlock()
		return
	}
	w.conn = nil

	oneShots := make([]*subscription, 0, len(w.byLocal)+len(w.byServer))
	for _, sub := range w.byLocal {
		if sub.oneShot {
			oneShots = append(oneShots, sub)
		}
	}
	for _, sub := range w.byServer {
		if sub.oneShot {
			oneShots = append(oneShots, sub)
		}
	}
	w.byLocal = map[uint64]*subscription{}
	w.byServer = map[uint64]*subscription{}
	for _, sub := range w.standing {
		sub.hasServerID = false
	}
	w.mu.Unlock()

	_ = conn.Close()

	for _, sub := range oneShots {
		sub.outcome <- outcome{err: confirmwatcher.ErrSubscriptionLost}
	}

	select {
	case <-w.quit:
		w.setState(confirmwatcher.StateDisconnected)
		return
	default:
	}

	w.log.Warn().Err(cause).Int("rejected", len(oneShots)).Msg("live-update channel lost")
	w.setState(confirmwatcher.StateReconnecting)
	go w.reconnectLoop()
}

// reconnectLoop attempts to re-establish the channel with exponential backoff.
// Attempts are bounded; once exhausted the watcher stays DISCONNECTED until
// explicitly reconnected.
func (w *WSWatcher) reconnectLoop() {
	for attempt := 0; attempt < w.config.MaxReconnectAttempts; attempt++ {
		delay := confirmwatcher.ReconnectDelay(w.config, attempt)
		select {
		case <-w.quit:
			w.setState(confirmwatcher.StateDisconnected)
			return
		case <-time.After(delay):
		}

		w.setState(confirmwatcher.StateConnecting)
		conn, _, err := websocket.DefaultDialer.Dial(w.endpoint, nil)
		if err != nil {
			w.mReconnectFailures.Add(context.Background(), 1, w.mBaseLabels...)
			w.log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("reconnect attempt failed")
			w.setState(confirmwatcher.StateReconnecting)
			continue
		}

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.setState(confirmwatcher.StateConnected)
		go w.readLoop(conn)
		w.restoreStanding()

		w.log.Info().Int("attempt", attempt+1).Msg("live-update channel reconnected")
		return
	}

	w.log.Error().
		Int("attempts", w.config.MaxReconnectAttempts).
		Msg("reconnect attempts exhausted, staying disconnected")
	w.setState(confirmwatcher.StateDisconnected)
}

// restoreStanding re-issues subscribe requests for every standing subscription
// with fresh local ids.
func (w *WSWatcher) restoreStanding() {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.standing))
	for _, sub := range w.standing {
		sub.localID = w.nextID.Inc()
		w.byLocal[sub.localID] = sub
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		if err := w.writeMessage(wireMessage{
			JSONRPC: "2.0",
			ID:      &sub.localID,
			Method:  methodSubscribe,
			Params:  mustParams(sub.target),
		}); err != nil {
			w.log.Error().Err(err).Str("target", sub.target).Msg("restoring standing subscription")
			return
		}
	}
}

// unregister removes a subscription from whichever map currently holds it and
// reports the server id when the remap had already happened.
func (w *WSWatcher) unregister(sub *subscription) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.byLocal, sub.localID)
	if sub.hasServerID {
		delete(w.byServer, sub.serverID)
		return sub.serverID, true
	}
	return 0, false
}

func (w *WSWatcher) sendUnsubscribe(serverID uint64) {
	id := w.nextID.Inc()
	if err := w.writeMessage(wireMessage{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  methodUnsubscribe,
		Params:  mustParams(serverID),
	}); err != nil {
		w.log.Debug().Err(err).Uint64("serverId", serverID).Msg("sending unsubscribe")
	}
}

func (w *WSWatcher) writeMessage(msg wireMessage) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return confirmwatcher.ErrDisconnected
	}

	data, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %s", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %s", err)
	}
	return nil
}

func (w *WSWatcher) setState(s confirmwatcher.State) {
	w.state.Store(int32(s))
}

func mustParams(v interface{}) json.RawMessage {
	data, err := codec.Marshal([]interface{}{v})
	if err != nil {
		panic(err)
	}
	return data
}
