// bot is a scripted visitor: it dials the server, joins a room's presence
// channel, and walks an avatar around using the same simulation code a real
// client embeds. Useful for smoke-testing presence fanout by hand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"beaverden.app/internal/persistence/roomdb"
	"beaverden.app/internal/protocol"
	"beaverden.app/internal/sim/catalogs"
	"beaverden.app/internal/sim/room"
	"beaverden.app/internal/sim/tuning"
)

func main() {
	var (
		wsURL     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		apiURL    = flag.String("api", "http://localhost:8080", "rest base url")
		configDir = flag.String("configs", "./configs", "config directory")
		ownerID   = flag.String("owner", "", "room owner to visit (required)")
		userID    = flag.String("user", "", "visitor identity (default: random)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *ownerID == "" {
		logger.Fatal("missing -owner")
	}
	uid := *userID
	if uid == "" {
		uid = fmt.Sprintf("bot_%d", rand.Intn(1_000_000))
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tune := tuning.Defaults()
	if t, err := tuning.Load(*configDir + "/tuning.yaml"); err == nil {
		tune = t
	}

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		UserID:          uid,
		Name:            "bot",
	}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	sim := room.NewSimulation(
		tune, room.ModeVisitor, *ownerID, uid,
		room.StaticAssets(cats), cats,
		&restLoader{base: *apiURL, userID: uid},
		nil,
		&wsSender{conn: conn, roomID: *ownerID},
		logger,
	)
	sim.Resize(800, 500)
	sim.Enter(context.Background())
	defer sim.Close()

	if err := conn.WriteJSON(protocol.PresenceJoinMsg{
		Type:            protocol.TypePresenceJoin,
		ProtocolVersion: protocol.Version,
		RoomID:          *ownerID,
	}); err != nil {
		logger.Fatalf("send join: %v", err)
	}

	inbound := make(chan []byte, 64)
	go func() {
		defer close(inbound)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			inbound <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	moveKeys := []room.Key{room.KeyMoveUp, room.KeyMoveDown, room.KeyMoveLeft, room.KeyMoveRight}
	var held room.Key
	holding := false

	tick := time.NewTicker(33 * time.Millisecond)
	defer tick.Stop()
	turn := time.NewTicker(time.Second)
	defer turn.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			apply(sim, logger, msg)
		case <-turn.C:
			if holding {
				sim.KeyUp(held)
			}
			held = moveKeys[rand.Intn(len(moveKeys))]
			holding = true
			sim.KeyDown(held)
		case now := <-tick.C:
			sim.Tick(now.Sub(last).Seconds())
			last = now
		}
	}
}

func apply(sim *room.Simulation, logger *log.Logger, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypePresenceState:
		var m protocol.PresenceStateMsg
		if json.Unmarshal(msg, &m) == nil {
			sim.ApplyPresenceState(m)
			logger.Printf("snapshot: %d occupant(s)", len(m.Users))
		}
	case protocol.TypePresenceMoved:
		var m protocol.PresenceMovedMsg
		if json.Unmarshal(msg, &m) == nil {
			sim.ApplyPresenceMoved(m)
		}
	case protocol.TypePresenceLeft:
		var m protocol.PresenceLeftMsg
		if json.Unmarshal(msg, &m) == nil {
			sim.ApplyPresenceLeft(m)
			logger.Printf("left: %s", m.UserID)
		}
	case protocol.TypeRoomUpdate:
		var m protocol.RoomUpdateMsg
		if json.Unmarshal(msg, &m) == nil {
			sim.ApplyRoomUpdate(m)
		}
	}
}

// restLoader fetches room documents over the REST surface.
type restLoader struct {
	base   string
	userID string
}

func (l *restLoader) LoadOwn(ctx context.Context, userID string) (roomdb.Room, error) {
	return l.get(ctx, l.base+"/v1/room")
}

func (l *restLoader) LoadByOwner(ctx context.Context, ownerID string) (roomdb.Room, error) {
	return l.get(ctx, l.base+"/v1/rooms/"+ownerID)
}

func (l *restLoader) get(ctx context.Context, url string) (roomdb.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return roomdb.Room{}, err
	}
	req.Header.Set("X-User-Id", l.userID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return roomdb.Room{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return roomdb.Room{}, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	var room roomdb.Room
	return room, json.NewDecoder(resp.Body).Decode(&room)
}

// wsSender pushes throttled presence moves out on the live connection.
type wsSender struct {
	conn   *websocket.Conn
	roomID string
}

func (s *wsSender) SendMove(x, y float64, dir string) {
	xb, _ := json.Marshal(x)
	yb, _ := json.Marshal(y)
	db, _ := json.Marshal(dir)
	_ = s.conn.WriteJSON(protocol.PresenceMoveMsg{
		Type:            protocol.TypePresenceMove,
		ProtocolVersion: protocol.Version,
		RoomID:          s.roomID,
		X:               xb,
		Y:               yb,
		Dir:             db,
	})
}
