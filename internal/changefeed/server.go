// Package changefeed streams committed row changes over websockets and
// adapts both the local bus and a remote server to realtime.Feed.
package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/eventbus"
	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// HeaderFilter carries the filter the server applies, after scoping to the
// actor, in the handshake response.
const HeaderFilter = "X-Worktrack-Filter"

var tables = map[string]bool{
	change.TableTasks:       true,
	change.TableProjects:    true,
	change.TableComments:    true,
	change.TableAttachments: true,
	change.TableProgress:    true,
}

type Server struct {
	bus      *eventbus.Bus
	actors   user.ActorResolver
	bufSize  int
	upgrader websocket.Upgrader
}

func NewServer(bus *eventbus.Bus, actors user.ActorResolver) *Server {
	return &Server{
		bus:     bus,
		actors:  actors,
		bufSize: 256,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes must be mounted outside NewConvertErrorChiMiddleware because the
// handler hijacks the connection.
func (s *Server) Routes(r chi.Router) {
	r.Get("/feed/{table}", s.Stream)
}

// Stream upgrades to a websocket and writes one JSON change.Event per
// message for rows whose new or old image matches ?filter=. Deletes are
// always sent.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := chi.URLParam(r, "table")
	filter, err := s.authorize(ctx, table, r.URL.Query().Get("filter"))
	if err != nil {
		cerr.WriteHTTPError(ctx, w, err)
		return
	}

	// Subscribed before the handshake completes, so a client that has its
	// connection sees every event committed after that point.
	subID, events := s.bus.Subscribe(table, s.bufSize)
	defer s.bus.Unsubscribe(subID)

	conn, err := s.upgrader.Upgrade(w, r, http.Header{HeaderFilter: {filter.String()}})
	if err != nil {
		slog.WarnContext(ctx, "failed to upgrade change feed", "error", err)
		return
	}
	defer conn.Close()
	slog.DebugContext(ctx, "change feed opened", "table", table, "filter", filter.String(), "subscriber_id", subID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber fell behind")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if !filter.MatchEvent(ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				slog.DebugContext(ctx, "change feed write failed", "error", err)
				return
			}
		}
	}
}

// authorize resolves the actor and narrows the filter to what it may see.
// Actors without ViewAllProjects only follow tasks assigned to them.
func (s *Server) authorize(ctx context.Context, table, rawFilter string) (realtime.Filter, error) {
	if !tables[table] {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("unknown table %s", table), nil)
	}
	actor, err := s.actors.Resolve(ctx, user.UserIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	filter, err := realtime.ParseFilter(rawFilter)
	if err != nil {
		return nil, err
	}
	if actor.Caps.Has(permission.ViewAllProjects) {
		return filter, nil
	}
	if table != change.TableTasks {
		return nil, permission.Require(actor.Caps, permission.ViewAllProjects)
	}
	return append(filter, realtime.Contains("assignee_ids", actor.ID())), nil
}
