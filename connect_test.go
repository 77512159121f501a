package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Advance-Web-Design/silversync/chain"
)

func newTestClient(playerID string) *Client {
	return &Client{send: make(chan any, 32), playerID: playerID}
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func lastError(msgs []any) *ErrorMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if e, ok := msgs[i].(ErrorMessage); ok {
			return &e
		}
	}
	return nil
}

func findConnectionFound(msgs []any) *ConnectionFoundMessage {
	for _, m := range msgs {
		if cf, ok := m.(ConnectionFoundMessage); ok {
			return &cf
		}
	}
	return nil
}

func startedHub(t *testing.T, cfg *Config) (*Hub, *Client) {
	t.Helper()
	hub := newHub("testgame")
	host := newTestClient("host-cookie")
	hub.clients[host] = true
	hub.hostPlayerID = host.playerID

	hub.handleCommand(cfg, command{client: host, msg: ClientMessage{Type: "join", Username: "host"}})
	hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
		Type: "start",
		Actors: []BoardEntity{
			{Key: "person-1", Name: "Tom Hanks"},
			{Key: "person-2", Name: "Morgan Freeman"},
		},
	}})
	require.True(t, hub.started)
	drain(host)
	return hub, host
}

func TestHubStart(t *testing.T) {
	cfg := &Config{}

	t.Run("HostOnly", func(t *testing.T) {
		hub := newHub("testgame")
		host := newTestClient("host-cookie")
		other := newTestClient("other-cookie")
		hub.clients[host] = true
		hub.clients[other] = true
		hub.hostPlayerID = host.playerID

		hub.handleCommand(cfg, command{client: other, msg: ClientMessage{
			Type:   "start",
			Actors: []BoardEntity{{Key: "person-1"}, {Key: "person-2"}},
		}})

		require.False(t, hub.started)
		require.NotNil(t, lastError(drain(other)))
	})

	t.Run("RejectsNonPersonActors", func(t *testing.T) {
		hub := newHub("testgame")
		host := newTestClient("host-cookie")
		hub.clients[host] = true
		hub.hostPlayerID = host.playerID

		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
			Type:   "start",
			Actors: []BoardEntity{{Key: "movie-1"}, {Key: "person-2"}},
		}})

		require.False(t, hub.started)
		require.NotNil(t, lastError(drain(host)))
	})

	t.Run("RejectsDuplicateActors", func(t *testing.T) {
		hub := newHub("testgame")
		host := newTestClient("host-cookie")
		hub.clients[host] = true
		hub.hostPlayerID = host.playerID

		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
			Type:   "start",
			Actors: []BoardEntity{{Key: "person-1"}, {Key: "person-1"}},
		}})

		require.False(t, hub.started)
		require.NotNil(t, lastError(drain(host)))
	})

	t.Run("BroadcastsBoardState", func(t *testing.T) {
		hub, _ := startedHub(t, cfg)

		state := hub.boardStateLocked()
		require.True(t, state.Started)
		require.False(t, state.Connected)
		require.Len(t, state.Actors, 2)
		require.Equal(t, 2, state.UniqueNodes)
	})
}

func TestHubPlace(t *testing.T) {
	cfg := &Config{}

	t.Run("BeforeStartFails", func(t *testing.T) {
		hub := newHub("testgame")
		c := newTestClient("cookie")
		hub.clients[c] = true

		hub.handleCommand(cfg, command{client: c, msg: ClientMessage{
			Type:   "place",
			Entity: &BoardEntity{Key: "movie-13", Name: "Forrest Gump"},
		}})
		require.NotNil(t, lastError(drain(c)))
	})

	t.Run("MalformedKeyFails", func(t *testing.T) {
		hub, host := startedHub(t, cfg)

		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
			Type:   "place",
			Entity: &BoardEntity{Key: "movie13", Name: "Forrest Gump"},
		}})
		require.NotNil(t, lastError(drain(host)))
	})

	t.Run("PlacementAndWin", func(t *testing.T) {
		hub, host := startedHub(t, cfg)

		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
			Type:   "place",
			Entity: &BoardEntity{Key: "movie-13", Name: "Forrest Gump"},
			Connections: []chain.Edge{
				{Source: "movie-13", Target: "person-1"},
			},
		}})
		require.False(t, hub.connected)
		require.Len(t, hub.placed, 1)

		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
			Type:   "place",
			Entity: &BoardEntity{Key: "movie-13", Name: "Forrest Gump"},
			Connections: []chain.Edge{
				{Source: "movie-13", Target: "person-2"},
			},
		}})
		require.True(t, hub.connected)
		// Duplicate placement must not duplicate the board entry.
		require.Len(t, hub.placed, 1)

		found := findConnectionFound(drain(host))
		require.NotNil(t, found)
		require.Equal(t, 0, found.Connection.PathLength)
		require.Equal(t,
			[]string{"person-1", "movie-13", "person-2"},
			found.Connection.FullPath)
		require.Equal(t, "Forrest Gump", found.Names["movie-13"])
	})

	t.Run("ResetClearsBoard", func(t *testing.T) {
		hub, host := startedHub(t, cfg)
		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{
			Type:   "place",
			Entity: &BoardEntity{Key: "movie-13", Name: "Forrest Gump"},
			Connections: []chain.Edge{
				{Source: "movie-13", Target: "person-1"},
			},
		}})

		hub.handleCommand(cfg, command{client: host, msg: ClientMessage{Type: "reset"}})

		require.False(t, hub.started)
		require.Empty(t, hub.placed)
		require.Equal(t, 0, hub.engine.TotalUniqueNodes())
	})
}

func TestNewGameID(t *testing.T) {
	gm := newGameManager(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gm.newGameID()
		require.Len(t, id, 8)
		require.False(t, seen[id])
		seen[id] = true
		for _, r := range id {
			require.True(t, strings.ContainsRune(
				"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", r))
		}
	}
}

func TestHumanReadableSize(t *testing.T) {
	require.Equal(t, "100 B", humanReadableSize(100))
	require.Equal(t, "1.5 kB", humanReadableSize(1500))
	require.Equal(t, "2.0 MB", humanReadableSize(2_000_000))
}
