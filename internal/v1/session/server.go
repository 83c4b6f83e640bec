// Package session owns the websocket edge: upgrading connections,
// pumping frames, and routing decoded commands to the room layer.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/config"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
	"github.com/osobh/parley/internal/v1/protocol"
	"github.com/osobh/parley/internal/v1/ratelimit"
	"github.com/osobh/parley/internal/v1/room"
	"github.com/osobh/parley/internal/v1/types"
)

// DefaultRoomID is the room a JOIN without a roomId lands in. It is
// created on first use with the configured default topic and mode.
const DefaultRoomID = "default"

// Server accepts websocket connections and dispatches their commands.
// Room-scoped commands go to the client's current room; CREATE_ROOM and
// LIST_ROOMS are answered against the room manager directly.
type Server struct {
	ctx     context.Context
	cfg     *config.Config
	rooms   *room.Manager
	limiter *ratelimit.RateLimiter

	upgrader websocket.Upgrader
}

// NewServer builds the websocket edge. limiter may be nil, which
// disables connect rate limiting.
func NewServer(ctx context.Context, cfg *config.Config, rooms *room.Manager, limiter *ratelimit.RateLimiter) *Server {
	return &Server{
		ctx:     ctx,
		cfg:     cfg,
		rooms:   rooms,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker builds the upgrade origin policy from a comma-separated
// allowlist. "*" allows everything; absent Origin headers (non-browser
// agents) are always allowed.
func originChecker(allowed string) func(*http.Request) bool {
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	origins := strings.Split(allowed, ",")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	}
}

// ServeWs is the gin handler for the websocket endpoint. It enforces
// the per-IP connect limit, upgrades, and runs the pumps. The handler
// goroutine blocks in readPump for the lifetime of the connection.
func (s *Server) ServeWs(c *gin.Context) {
	if s.limiter != nil && !s.limiter.CheckConnection(c) {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(conn, s, s.cfg.SendBufferLimit)
	metrics.IncConnection()

	go client.writePump()
	client.readPump()
}

// route dispatches one decoded command for a client.
func (s *Server) route(c *Client, cmd *protocol.Command) {
	switch cmd.Type {
	case protocol.CmdCreateRoom:
		s.handleCreateRoom(c, cmd)
	case protocol.CmdListRooms:
		s.handleListRooms(c)
	case protocol.CmdJoin:
		s.handleJoin(c, cmd)
	default:
		r := c.currentRoom()
		if r == nil {
			c.Send(protocol.MustEncode(protocol.ErrorEvent("not a member of any room")))
			return
		}
		r.HandleCommand(c, cmd)
		if (cmd.Type == protocol.CmdLeave || cmd.Type == protocol.CmdLeaveRoom) && !r.HasConn(c) {
			c.setRoom(nil)
		}
	}
}

func (s *Server) handleCreateRoom(c *Client, cmd *protocol.Command) {
	mode := s.defaultMode()
	if cmd.Mode != "" {
		mode, _ = types.ParseMode(cmd.Mode) // validated by the codec
	}

	r, err := s.rooms.Create(s.ctx, cmd.RoomID, cmd.Topic, mode)
	if err != nil {
		c.Send(protocol.MustEncode(protocol.ErrorEvent(err.Error())))
		return
	}

	c.Send(protocol.MustEncode(&protocol.Event{
		Type:      protocol.EvtRoomCreated,
		Timestamp: protocol.Now(),
		RoomID:    r.ID,
		Topic:     r.Topic,
		Mode:      string(r.Mode),
	}))
}

func (s *Server) handleListRooms(c *Client) {
	c.Send(protocol.MustEncode(&protocol.Event{
		Type:      protocol.EvtRoomList,
		Timestamp: protocol.Now(),
		Rooms:     s.rooms.List(),
	}))
}

func (s *Server) handleJoin(c *Client, cmd *protocol.Command) {
	if s.limiter != nil {
		if err := s.limiter.CheckAgent(s.ctx, cmd.AgentID); err != nil {
			c.Send(protocol.MustEncode(protocol.ErrorEvent(err.Error())))
			return
		}
	}

	if cur := c.currentRoom(); cur != nil {
		c.Send(protocol.MustEncode(protocol.ErrorEvent("already joined room " + cur.ID + ": LEAVE first")))
		return
	}

	var r *room.Room
	if cmd.RoomID == "" {
		var err error
		r, err = s.defaultRoom()
		if err != nil {
			c.Send(protocol.MustEncode(protocol.ErrorEvent(err.Error())))
			return
		}
	} else {
		var ok bool
		r, ok = s.rooms.Get(cmd.RoomID)
		if !ok {
			c.Send(protocol.MustEncode(protocol.ErrorEvent("room not found: " + cmd.RoomID)))
			return
		}
	}

	r.HandleCommand(c, cmd)
	if r.HasConn(c) {
		c.setRoom(r)
	}
}

// defaultRoom returns the shared default room, creating it on first
// use when a default topic is configured. A concurrent create by
// another connection is not an error.
func (s *Server) defaultRoom() (*room.Room, error) {
	if r, ok := s.rooms.Get(DefaultRoomID); ok {
		return r, nil
	}
	if s.cfg.DefaultTopic == "" {
		return nil, fmt.Errorf("no roomId given and no default room is configured")
	}
	r, err := s.rooms.Create(s.ctx, DefaultRoomID, s.cfg.DefaultTopic, s.defaultMode())
	if err != nil {
		if existing, ok := s.rooms.Get(DefaultRoomID); ok {
			return existing, nil
		}
		return nil, err
	}
	return r, nil
}

func (s *Server) defaultMode() types.Mode {
	mode, ok := types.ParseMode(s.cfg.DefaultMode)
	if !ok {
		mode = types.ModeDeep
	}
	return mode
}
