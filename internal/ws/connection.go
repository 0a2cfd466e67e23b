package ws

import (
	"chatify/internal/models"
	"chatify/internal/presence"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const DefaultSendBuffer = 100

var errLoggedOut = errors.New("logged out")

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Attach(c presence.Handle)
	Detach(c presence.Handle)
	Join(identity string, c presence.Handle) error
	Logout(identity string)
	Relay(ev models.Event) bool
}

type Connection struct {
	id         string
	ws         wsConnection
	hub        messageHub
	fromClient chan models.Event
	fromServer chan models.Event
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	sendBuffer int,
) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	c := &Connection{
		id:         uuid.NewString(),
		ws:         ws,
		hub:        hub,
		fromClient: make(chan models.Event),
		fromServer: make(chan models.Event, sendBuffer),
		errorCh:    make(chan error, 2),
	}
	hub.Attach(c)
	return c
}

func (c *Connection) ID() string {
	return c.id
}

// Send queues an event for this connection, dropping it if the queue is full.
func (c *Connection) Send(ev models.Event) bool {
	select {
	case c.fromServer <- ev:
		return true
	default:
		return false
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Detach(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errLoggedOut) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var ev models.Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			if isMalformed(err) {
				slog.Warn("dropping malformed frame", "conn_id", c.id, "error", err)
				continue
			}
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ev); err != nil {
				return err
			}
		case ev := <-c.fromServer:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ev models.Event) error {
	switch {
	case ev.Type == models.EventJoin:
		identity, err := models.DecodeIdentity(ev)
		if err != nil {
			slog.Warn("malformed join", "conn_id", c.id, "error", err)
			return nil
		}
		if err := c.hub.Join(identity, c); err != nil {
			slog.Warn("join failed", "conn_id", c.id, "error", err)
		}
	case ev.Type == models.EventLogout:
		identity, err := models.DecodeIdentity(ev)
		if err != nil {
			slog.Warn("malformed logout", "conn_id", c.id, "error", err)
			return nil
		}
		c.hub.Logout(identity)
		return errLoggedOut
	case ev.Type.Directed():
		c.hub.Relay(ev)
	default:
		slog.Warn("unknown event type", "conn_id", c.id, "type", ev.Type)
	}

	return nil
}

func isMalformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
