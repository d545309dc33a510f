// Package api provides clients for the exchange's info, execution, and
// websocket endpoints. The websocket fill stream pushes fills with lower
// latency than polling the info endpoint.
package api

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"

	"github.com/gorilla/websocket"
)

// FillHandler is called for each fill pushed for a subscribed address.
type FillHandler func(address string, fill models.Fill)

// FillStream maintains a websocket subscription to user fills for a set of
// addresses, reconnecting and resubscribing on connection loss.
type FillStream struct {
	url     string
	onFill  FillHandler
	conn    *websocket.Conn
	connMu  sync.Mutex

	subscribed   map[string]bool
	subscribedMu sync.RWMutex

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFillStream creates a fill stream. onFill runs on the read loop goroutine
// and must not block.
func NewFillStream(url string, onFill FillHandler) *FillStream {
	return &FillStream{
		url:        url,
		onFill:     onFill,
		subscribed: make(map[string]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

type wsSubscription struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type wsCommand struct {
	Method       string         `json:"method"`
	Subscription wsSubscription `json:"subscription"`
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsFillsData struct {
	User  string     `json:"user"`
	Fills []wireFill `json:"fills"`
}

// Subscribe adds an address to the fill subscription set.
func (fs *FillStream) Subscribe(address string) {
	fs.subscribedMu.Lock()
	already := fs.subscribed[address]
	fs.subscribed[address] = true
	fs.subscribedMu.Unlock()
	if already {
		return
	}

	fs.connMu.Lock()
	defer fs.connMu.Unlock()
	if fs.conn != nil {
		fs.sendSubscribe(fs.conn, address)
	}
}

// Unsubscribe removes an address. Pushed fills for it are ignored afterwards.
func (fs *FillStream) Unsubscribe(address string) {
	fs.subscribedMu.Lock()
	delete(fs.subscribed, address)
	fs.subscribedMu.Unlock()

	fs.connMu.Lock()
	defer fs.connMu.Unlock()
	if fs.conn != nil {
		cmd := wsCommand{Method: "unsubscribe", Subscription: wsSubscription{Type: "userFills", User: address}}
		if err := fs.conn.WriteJSON(cmd); err != nil {
			log.Printf("[FillStream] Unsubscribe %s failed: %v", address, err)
		}
	}
}

func (fs *FillStream) sendSubscribe(conn *websocket.Conn, address string) {
	cmd := wsCommand{Method: "subscribe", Subscription: wsSubscription{Type: "userFills", User: address}}
	if err := conn.WriteJSON(cmd); err != nil {
		log.Printf("[FillStream] Subscribe %s failed: %v", address, err)
	}
}

// Start runs the connect/read loop until Stop or context cancellation.
func (fs *FillStream) Start(ctx context.Context) {
	if fs.running {
		return
	}
	fs.running = true
	go fs.run(ctx)
	log.Printf("[FillStream] Started (%s)", fs.url)
}

// Stop closes the stream and waits for the read loop to exit.
func (fs *FillStream) Stop() {
	if !fs.running {
		return
	}
	fs.running = false
	close(fs.stopCh)

	fs.connMu.Lock()
	if fs.conn != nil {
		fs.conn.Close()
	}
	fs.connMu.Unlock()

	<-fs.doneCh
	log.Printf("[FillStream] Stopped")
}

func (fs *FillStream) run(ctx context.Context) {
	defer close(fs.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fs.stopCh:
			return
		default:
		}

		if err := fs.connectAndRead(ctx); err != nil {
			log.Printf("[FillStream] Connection lost: %v, reconnecting in 5s", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-fs.stopCh:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (fs *FillStream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, fs.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	fs.connMu.Lock()
	fs.conn = conn
	fs.connMu.Unlock()
	defer func() {
		fs.connMu.Lock()
		fs.conn = nil
		fs.connMu.Unlock()
	}()

	// Resubscribe everything on each (re)connect.
	fs.subscribedMu.RLock()
	addrs := make([]string, 0, len(fs.subscribed))
	for addr := range fs.subscribed {
		addrs = append(addrs, addr)
	}
	fs.subscribedMu.RUnlock()
	for _, addr := range addrs {
		fs.sendSubscribe(conn, addr)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Channel != "userFills" {
			continue
		}

		var data wsFillsData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.Printf("[FillStream] Bad fills payload: %v", err)
			continue
		}

		fs.subscribedMu.RLock()
		wanted := fs.subscribed[data.User]
		fs.subscribedMu.RUnlock()
		if !wanted {
			continue
		}

		for _, f := range data.Fills {
			size := parseFloat(f.Sz)
			if f.Side == "A" {
				size = -size
			}
			fs.onFill(data.User, models.Fill{
				TradeID:       strconv.FormatInt(f.Tid, 10),
				Coin:          f.Coin,
				Side:          f.Side,
				Price:         parseFloat(f.Px),
				Size:          size,
				Fee:           parseFloat(f.Fee),
				Direction:     f.Dir,
				ClosedPNL:     parseFloat(f.ClosedPnl),
				StartPosition: parseFloat(f.StartPosition),
				Timestamp:     time.UnixMilli(f.Time),
			})
		}
	}
}
