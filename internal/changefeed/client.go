package changefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

// RemoteFeed subscribes to the websocket feed of a worktrack server.
type RemoteFeed struct {
	baseURL string
	header  http.Header
	dialer  *websocket.Dialer
}

var (
	_ realtime.Feed   = (*RemoteFeed)(nil)
	_ realtime.Scoped = (*remoteSubscription)(nil)
)

// NewRemoteFeed returns a feed for the server at baseURL (http or https).
func NewRemoteFeed(baseURL, apiKey, userID string) *RemoteFeed {
	header := http.Header{}
	header.Set("X-API-Key", apiKey)
	header.Set(user.HeaderUserID, userID)
	return &RemoteFeed{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		header:  header,
		dialer:  websocket.DefaultDialer,
	}
}

func (f *RemoteFeed) feedURL(table string, filter realtime.Filter) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/feed/" + url.PathEscape(table)
	if len(filter) > 0 {
		u.RawQuery = url.Values{"filter": {filter.String()}}.Encode()
	}
	return u.String(), nil
}

func (f *RemoteFeed) Subscribe(ctx context.Context, table string, filter realtime.Filter) (realtime.Subscription, error) {
	target, err := f.feedURL(table, filter)
	if err != nil {
		return nil, err
	}
	conn, resp, err := f.dialer.DialContext(ctx, target, f.header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			return nil, cerr.DecodeHTTPError(resp.StatusCode, body)
		}
		return nil, cerr.Transient("failed to connect to change feed", err)
	}
	scoped := filter
	if raw := resp.Header.Get(HeaderFilter); raw != "" {
		if scoped, err = realtime.ParseFilter(raw); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("malformed %s header: %w", HeaderFilter, err)
		}
	}
	s := &remoteSubscription{
		conn:   conn,
		filter: scoped,
		out:    make(chan change.Event, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

type remoteSubscription struct {
	conn      *websocket.Conn
	filter    realtime.Filter
	out       chan change.Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *remoteSubscription) read() {
	defer close(s.done)
	defer close(s.out)
	for {
		var ev change.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.stop:
			default:
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					slog.Warn("change feed closed by server", "code", ce.Code, "reason", ce.Text)
				} else {
					slog.Warn("change feed read failed", "error", err)
				}
			}
			return
		}
		select {
		case s.out <- ev:
		case <-s.stop:
			return
		}
	}
}

// Filter returns the filter the server applies to this subscription.
func (s *remoteSubscription) Filter() realtime.Filter {
	return s.filter
}

func (s *remoteSubscription) Events() <-chan change.Event {
	return s.out
}

// Close sends a close frame and waits for the reader to stop.
func (s *remoteSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	<-s.done
	return err
}
