// Silversync connection game
//
// Two starting actors are chosen by the host, and everyone in the session
// collaboratively places movies, TV shows, and people on a shared board
// until the two actors are linked through a chain of shared credits.
//
// Features:
// - WebSockets per game ID: /connect/:gameid and /connect/:gameid/ws
// - First connection to a game becomes the host
// - Host picks the two starting actors and may reset the board
// - Players identified by cookie (playerID)
// - The authoritative board and connection engine live server-side; the
//   browser talks to TMDB directly for credit lookups
// - The first bridge broadcasts the winning chain; play may continue after
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Advance-Web-Design/silversync/chain"
)

// Player holds the data we store server-side.
type Player struct {
	PlayerID string
	Username string
}

// BoardEntity is one entity as the client supplies and renders it. The key
// is the composite "{type}-{id}"; Data is opaque TMDB payload passed through
// to other clients unchanged.
type BoardEntity struct {
	Key  string          `json:"key"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Messages coming from clients
type ClientMessage struct {
	Type        string        `json:"type"`                  // "join", "start", "place", "check", "reset"
	Username    string        `json:"username,omitempty"`    // join
	Actors      []BoardEntity `json:"actors,omitempty"`      // start: exactly two starting actors
	Entity      *BoardEntity  `json:"entity,omitempty"`      // place
	Connections []chain.Edge  `json:"connections,omitempty"` // place: edges to already-placed entities
}

// SessionInfoMessage is sent immediately on connect so the client knows
// what role this cookie has and whether a game is underway.
type SessionInfoMessage struct {
	Type       string `json:"type"` // "session_info"
	IsExisting bool   `json:"is_existing"`
	IsHost     bool   `json:"is_host"`
	Username   string `json:"username,omitempty"`
}

// PlayerListMessage broadcasts who is in the session.
type PlayerListMessage struct {
	Type    string   `json:"type"` // "player_list"
	Players []string `json:"players"`
}

// BoardStateMessage carries the full board so late joiners can catch up.
type BoardStateMessage struct {
	Type        string            `json:"type"` // "board_state"
	Started     bool              `json:"started"`
	Connected   bool              `json:"connected"`
	Actors      []BoardEntity     `json:"actors,omitempty"`
	Entities    []BoardEntity     `json:"entities,omitempty"`
	Stats       []chain.TreeStats `json:"stats,omitempty"`
	UniqueNodes int               `json:"unique_nodes"`
}

// PlaceResultMessage reports one placement to everyone.
type PlaceResultMessage struct {
	Type     string          `json:"type"` // "place_result"
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	PlacedBy string          `json:"placed_by"`
	Result   chain.AddResult `json:"result"`
}

// ConnectionFoundMessage announces that the two starting actors are linked.
type ConnectionFoundMessage struct {
	Type       string            `json:"type"` // "connection_found"
	FoundBy    string            `json:"found_by"`
	Connection chain.Connection  `json:"connection"`
	Names      map[string]string `json:"names"` // key to display name along the path
}

// ConnectionCheckMessage answers an on-demand "check" from one client.
type ConnectionCheckMessage struct {
	Type       string            `json:"type"`       // "connection_check"
	Connection *chain.Connection `json:"connection"` // null when still disjoint
	Names      map[string]string `json:"names,omitempty"`
}

// ErrorMessage is sent only to the offending client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	clients map[*Client]bool
	players []Player

	register chan *Client
	unreg    chan *Client
	commands chan command

	mu sync.RWMutex

	createdAt    time.Time
	lastActive   time.Time
	hostPlayerID string // cookie/playerID of the host

	// Board state. All mutations happen on the run goroutine, which keeps
	// engine insertions in discovery order (it requires a single writer).
	engine    *chain.Manager
	started   bool
	connected bool
	actors    []BoardEntity
	placed    []BoardEntity
	names     map[string]string
}

func newHub(gameID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		createdAt:  now,
		lastActive: now,
		engine:     chain.NewManager(),
		names:      make(map[string]string),
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// First connection becomes the host
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
			}

			// Is this cookie already associated with a player?
			isExisting := false
			existingName := ""
			for _, p := range h.players {
				if p.PlayerID == c.playerID {
					isExisting = true
					existingName = p.Username
					break
				}
			}

			h.clients[c] = true

			// Send session_info first, so the client decides whether to prompt.
			c.send <- SessionInfoMessage{
				Type:       "session_info",
				IsExisting: isExisting,
				IsHost:     h.hostPlayerID == c.playerID,
				Username:   existingName,
			}
			c.send <- h.boardStateLocked()

			h.broadcastPlayersLocked()
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			playerID := c.playerID
			isHost := playerID == h.hostPlayerID
			h.mu.Unlock()

			// The host "leaving" does not drop their seat.
			if playerID != "" && !isHost {
				go h.scheduleRemoval(cfg, playerID, cfg.playerTimeout)
			}

		case cmd := <-h.commands:
			h.handleCommand(cfg, cmd)
		}
	}
}

func (h *Hub) handleCommand(cfg *Config, cmd command) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	switch cmd.msg.Type {
	case "join":
		h.handleJoinLocked(cfg, cmd)
	case "start":
		h.handleStartLocked(cfg, cmd)
	case "place":
		h.handlePlaceLocked(cfg, cmd)
	case "check":
		h.handleCheckLocked(cmd)
	case "reset":
		h.handleResetLocked(cfg, cmd)
	}
}

func (h *Hub) handleJoinLocked(cfg *Config, cmd command) {
	c := cmd.client
	username := strings.TrimSpace(cmd.msg.Username)
	if username == "" || c.playerID == "" {
		return
	}

	for _, p := range h.players {
		if p.PlayerID != c.playerID && p.Username == username {
			h.sendToLocked(c, ErrorMessage{
				Type:    "error",
				Message: "That username is already taken. Please choose a different one.",
			})
			return
		}
	}

	existing := -1
	for i, p := range h.players {
		if p.PlayerID == c.playerID {
			existing = i
			break
		}
	}
	if existing >= 0 {
		h.players[existing].Username = username
	} else {
		h.players = append(h.players, Player{PlayerID: c.playerID, Username: username})
		logf(cfg, "GAMES: Player %q joined %s", username, h.id)
	}

	h.broadcastPlayersLocked()
}

func (h *Hub) handleStartLocked(cfg *Config, cmd command) {
	c := cmd.client
	if c.playerID != h.hostPlayerID {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: "Only the host can start the game."})
		return
	}
	if len(cmd.msg.Actors) != 2 {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: "Starting a game requires exactly two actors."})
		return
	}

	actors := cmd.msg.Actors
	for _, a := range actors {
		typ, _, err := chain.ParseKey(a.Key)
		if err != nil {
			h.sendToLocked(c, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		if typ != chain.Person {
			h.sendToLocked(c, ErrorMessage{Type: "error", Message: "Starting entities must both be people."})
			return
		}
	}

	err := h.engine.InitializeTrees(
		chain.Actor{Key: actors[0].Key, Data: actors[0].Data},
		chain.Actor{Key: actors[1].Key, Data: actors[1].Data},
	)
	if err != nil {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: err.Error()})
		return
	}

	h.started = true
	h.connected = false
	h.actors = actors
	h.placed = nil
	h.names = map[string]string{
		actors[0].Key: actors[0].Name,
		actors[1].Key: actors[1].Name,
	}

	logf(cfg, "GAMES: Game %s started with %q and %q", h.id, actors[0].Name, actors[1].Name)
	h.broadcastLocked(h.boardStateLocked())
}

func (h *Hub) handlePlaceLocked(cfg *Config, cmd command) {
	c := cmd.client
	if !h.started {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: "The game has not started yet."})
		return
	}
	entity := cmd.msg.Entity
	if entity == nil || entity.Key == "" {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: "Placement requires an entity."})
		return
	}

	typ, _, err := chain.ParseKey(entity.Key)
	if err != nil {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: err.Error()})
		return
	}
	for _, e := range cmd.msg.Connections {
		if _, ok := e.Other(entity.Key); !ok {
			h.sendToLocked(c, ErrorMessage{Type: "error", Message: "Every connection must involve the placed entity."})
			return
		}
	}

	result, err := h.engine.AddEntity(entity.Key, typ, entity.Data, cmd.msg.Connections)
	if err != nil {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: err.Error()})
		return
	}

	if _, seen := h.names[entity.Key]; !seen {
		h.placed = append(h.placed, *entity)
		h.names[entity.Key] = entity.Name
	}

	username := h.usernameForLocked(c.playerID)
	logf(cfg, "GAMES: %q placed %q (%s) in %s, %d tree(s) affected",
		username, entity.Name, entity.Key, h.id, len(result.TreesAffected))

	h.broadcastLocked(PlaceResultMessage{
		Type:     "place_result",
		Key:      entity.Key,
		Name:     entity.Name,
		PlacedBy: username,
		Result:   result,
	})

	if result.Shortest != nil && !h.connected {
		h.connected = true
		logf(cfg, "GAMES: Connection found in %s via %s (score %d)",
			h.id, result.Shortest.BridgeNode, result.Shortest.PathLength)
		h.broadcastLocked(ConnectionFoundMessage{
			Type:       "connection_found",
			FoundBy:    username,
			Connection: *result.Shortest,
			Names:      h.pathNamesLocked(result.Shortest.FullPath),
		})
	}

	h.broadcastLocked(h.boardStateLocked())
}

func (h *Hub) handleCheckLocked(cmd command) {
	if !h.started || len(h.actors) != 2 {
		h.sendToLocked(cmd.client, ConnectionCheckMessage{Type: "connection_check"})
		return
	}
	conn := h.engine.ActorsConnected(h.actors[0].Key, h.actors[1].Key)
	msg := ConnectionCheckMessage{Type: "connection_check", Connection: conn}
	if conn != nil {
		msg.Names = h.pathNamesLocked(conn.FullPath)
	}
	h.sendToLocked(cmd.client, msg)
}

func (h *Hub) handleResetLocked(cfg *Config, cmd command) {
	c := cmd.client
	if c.playerID != h.hostPlayerID {
		h.sendToLocked(c, ErrorMessage{Type: "error", Message: "Only the host can reset the game."})
		return
	}

	h.engine.Reset()
	h.started = false
	h.connected = false
	h.actors = nil
	h.placed = nil
	h.names = make(map[string]string)

	logf(cfg, "GAMES: Game %s reset", h.id)
	h.broadcastLocked(h.boardStateLocked())
}

func (h *Hub) boardStateLocked() BoardStateMessage {
	msg := BoardStateMessage{
		Type:      "board_state",
		Started:   h.started,
		Connected: h.connected,
		Actors:    h.actors,
		Entities:  h.placed,
	}
	if h.started {
		msg.Stats = h.engine.AllTreeStats()
		msg.UniqueNodes = h.engine.TotalUniqueNodes()
	}
	return msg
}

func (h *Hub) pathNamesLocked(path []string) map[string]string {
	names := make(map[string]string, len(path))
	for _, key := range path {
		if name, ok := h.names[key]; ok {
			names[key] = name
		}
	}
	return names
}

func (h *Hub) usernameForLocked(playerID string) string {
	for _, p := range h.players {
		if p.PlayerID == playerID {
			return p.Username
		}
	}
	return "(anonymous)"
}

func (h *Hub) broadcastPlayersLocked() {
	usernames := make([]string, 0, len(h.players))
	for _, p := range h.players {
		usernames = append(usernames, p.Username)
	}
	h.broadcastLocked(PlayerListMessage{Type: "player_list", Players: usernames})
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) sendToLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// scheduleRemoval waits for d, and if no client with this playerID is
// currently connected, removes that player's seat. The board itself is
// untouched; placements outlive their placer.
func (h *Hub) scheduleRemoval(cfg *Config, playerID string, d time.Duration) {
	time.Sleep(d)

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.playerID == playerID {
			return
		}
	}

	dst := h.players[:0]
	changed := false

	for _, p := range h.players {
		if p.PlayerID == playerID {
			changed = true
			logf(cfg, "GAMES: Player %q dropped from %s", p.Username, h.id)
			continue
		}
		dst = append(dst, p)
	}
	h.players = dst

	if !changed {
		return
	}

	h.lastActive = time.Now()
	h.broadcastPlayersLocked()
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "silversync_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each /connect/$gameid
// is its own isolated session with its own engine.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "start", "place", "check", "reset":
			h.commands <- command{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed connect/index.html
var indexHTML []byte

//go:embed connect/app.css
var connectCSS []byte

//go:embed connect/app.js
var connectJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(connectCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(connectJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerConnectGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerConnectGame(cfg *Config, path string, mux *httprouter.Router) {
	gm := newGameManager(cfg.sessionTimeout)

	// Root path → redirect to new random game
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/connect/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/connect/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
