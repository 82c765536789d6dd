package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antibyte/looplang/pkg/logger"
	"github.com/antibyte/looplang/pkg/looplang"
	"github.com/antibyte/looplang/pkg/shared"
	"github.com/antibyte/looplang/pkg/store"
)

// inputBacklog bounds the INPUT lines a client may send ahead of the program.
const inputBacklog = 16

// Client is one WebSocket connection attached to an interpreter session.
// Sources run one at a time in their own goroutine; the read pump keeps
// delivering INPUT lines and Stop requests meanwhile.
type Client struct {
	handler   *Handler
	conn      *websocket.Conn
	sessionID string
	remote    string

	send     chan []byte
	shutdown chan struct{}
	once     sync.Once

	// ctx ends when the connection closes
	ctx    context.Context
	cancel context.CancelFunc

	session *looplang.Session
	out     *clientWriter
	input   chan string

	running atomic.Bool
	runMu   sync.Mutex
	stopRun context.CancelFunc
	runCtx  context.Context
}

func newClient(h *Handler, conn *websocket.Conn, sessionID, remote string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		handler:   h,
		conn:      conn,
		sessionID: sessionID,
		remote:    remote,
		send:      make(chan []byte, getMaxChannelBuffer()),
		shutdown:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		input:     make(chan string, inputBacklog),
	}
	c.out = &clientWriter{c: c}
	c.session = looplang.NewSession(c.out, &promptReader{c: c}, looplang.OptionsFromConfig())
	c.session.ID = sessionID
	return c
}

// Send queues msg for the write pump. It blocks while the queue is full and
// reports false once the connection is closed.
func (c *Client) Send(msg shared.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.ServerError("Cannot encode message for session %s: %v", c.sessionID, err)
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.shutdown:
		return false
	}
}

func (c *Client) sendSession() {
	c.Send(shared.Message{
		Type:      shared.MessageTypeSession,
		Content:   "LOOP session ready",
		SessionID: c.sessionID,
	})
}

func (c *Client) sendError(err error) {
	c.Send(shared.Message{
		Type:       shared.MessageTypeError,
		Content:    err.Error(),
		Category:   category(err),
		Incomplete: looplang.IsIncomplete(err),
	})
}

func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.shutdown)
		c.handler.clients.RemoveClient(c.sessionID, c)
		c.conn.Close()
		logger.ServerInfo("Session %s disconnected (%s)", c.sessionID, c.remote)
	})
}

func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			logger.ServerError("Panic in read pump for session %s: %v", c.sessionID, r)
		}
		c.close()
	}()

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.ServerWarn("Unexpected close for session %s: %v", c.sessionID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg shared.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.SecurityWarn("Invalid JSON from %s: %v", c.remote, err)
			c.sendError(fmt.Errorf("invalid message: %v", err))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg shared.Message) {
	switch msg.Type {
	case shared.MessageTypeSource:
		if !c.running.CompareAndSwap(false, true) {
			c.sendError(errors.New("a program is already running"))
			return
		}
		// set up before the read pump moves on, so that Input and Stop
		// sent right behind the source reach this run
		c.drainInput()
		ctx, stop := context.WithCancel(c.ctx)
		c.runMu.Lock()
		c.stopRun, c.runCtx = stop, ctx
		c.runMu.Unlock()
		go c.execute(ctx, stop, msg)

	case shared.MessageTypeInput:
		if !c.running.Load() {
			logger.ServerDebug("Session %s: input without a running program dropped", c.sessionID)
			return
		}
		select {
		case c.input <- msg.Content:
		default:
			c.sendError(errors.New("too much input ahead of the program"))
		}

	case shared.MessageTypeProbe:
		// the registry may only be read while nothing runs
		if c.running.Load() {
			c.sendError(errors.New("a program is already running"))
			return
		}
		reply := shared.Message{Type: shared.MessageTypeProbe}
		if err := c.session.Probe(msg.Content); err != nil {
			reply.Incomplete = looplang.IsIncomplete(err)
			if !reply.Incomplete {
				reply.Content = err.Error()
				reply.Category = category(err)
			}
		}
		c.Send(reply)

	case shared.MessageTypeStop:
		c.runMu.Lock()
		if c.stopRun != nil {
			c.stopRun()
		}
		c.runMu.Unlock()

	default:
		logger.ServerDebug("Session %s: ignoring message type %d", c.sessionID, msg.Type)
	}
}

// execute runs one Source message to completion under ctx and reports its
// errors, the resulting state and a final Done message.
// The session is released before Done goes out, so a client may send the
// next source as soon as it sees Done.
func (c *Client) execute(ctx context.Context, stop context.CancelFunc, msg shared.Message) {
	src, name, script := msg.Content, msg.Name, ""
	if src == "" && name != "" {
		loaded, err := c.loadScript(ctx, name)
		if err != nil {
			c.endRun(stop)
			c.sendError(err)
			c.running.Store(false)
			c.Send(shared.Message{Type: shared.MessageTypeDone, Content: "failed"})
			return
		}
		src, script = loaded, name
	}
	if name == "" {
		name = "<input>"
	}

	var captured strings.Builder
	c.out.capture = &captured
	before := c.session.Executed()
	start := time.Now()
	err := c.session.RunString(ctx, src, name)
	elapsed := time.Since(start)
	c.out.capture = nil
	c.endRun(stop)

	for _, e := range splitErrors(err) {
		c.sendError(e)
	}
	global := c.session.Global()
	c.Send(shared.Message{
		Type:      shared.MessageTypeState,
		Variables: global.Variables(),
		Programs:  global.Programs(),
	})
	if c.handler.recordRuns {
		c.record(store.Run{
			Script:     script,
			SessionID:  c.sessionID,
			SourceHash: store.HashSource(src),
			Output:     captured.String(),
			Statements: c.session.Executed() - before,
			StartedAt:  start,
			Duration:   elapsed,
		}, err)
	}

	status := "ok"
	if err != nil {
		status = "failed"
	}
	logger.ServerDebug("Session %s: %s %s in %v", c.sessionID, name, status, elapsed)
	c.running.Store(false)
	c.Send(shared.Message{Type: shared.MessageTypeDone, Content: status})
}

// endRun retires the run context published by handle.
func (c *Client) endRun(stop context.CancelFunc) {
	c.runMu.Lock()
	c.stopRun, c.runCtx = nil, nil
	c.runMu.Unlock()
	stop()
}

func (c *Client) record(run store.Run, runErr error) {
	if runErr != nil {
		run.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.handler.store.RecordRun(ctx, run); err != nil {
		logger.ServerWarn("Session %s: %v", c.sessionID, err)
	}
}

func (c *Client) loadScript(ctx context.Context, name string) (string, error) {
	if c.handler.store == nil {
		return "", fmt.Errorf("cannot run %q: no script store configured", name)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := c.handler.store.GetScript(ctx, name)
	if err != nil {
		return "", err
	}
	return s.Source, nil
}

// drainInput drops lines left over from an earlier run.
func (c *Client) drainInput() {
	for {
		select {
		case <-c.input:
		default:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.ServerDebug("Write to session %s failed: %v", c.sessionID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.ServerDebug("Ping to session %s failed: %v", c.sessionID, err)
				return
			}
		case <-c.shutdown:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// clientWriter turns PRINT output into Text messages. capture, when set,
// receives a copy for the run record; only the run goroutine touches it.
type clientWriter struct {
	c       *Client
	capture *strings.Builder
}

func (w *clientWriter) Write(p []byte) (int, error) {
	if !w.c.Send(shared.Message{Type: shared.MessageTypeText, Content: string(p), NoNewline: true}) {
		return 0, io.ErrClosedPipe
	}
	if w.capture != nil {
		w.capture.Write(p)
	}
	return len(p), nil
}

// promptReader answers INPUT statements with lines sent by the client.
type promptReader struct {
	c *Client
}

func (r *promptReader) ReadLine() (string, error) {
	r.c.runMu.Lock()
	ctx := r.c.runCtx
	r.c.runMu.Unlock()
	if ctx == nil {
		ctx = r.c.ctx
	}

	if !r.c.Send(shared.Message{Type: shared.MessageTypePrompt}) {
		return "", io.EOF
	}
	timeout := getInputTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// a line sent together with Stop is still consumed
	select {
	case line := <-r.c.input:
		return strings.TrimRight(line, "\r\n"), nil
	default:
	}
	select {
	case line := <-r.c.input:
		return strings.TrimRight(line, "\r\n"), nil
	case <-ctx.Done():
		return "", io.EOF
	case <-timer.C:
		return "", fmt.Errorf("no input within %v", timeout)
	}
}

// splitErrors undoes the joining done by a session in continue mode.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*looplang.LoopError); ok {
		return []error{err}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var errs []error
		for _, e := range joined.Unwrap() {
			errs = append(errs, splitErrors(e)...)
		}
		return errs
	}
	return []error{err}
}

func category(err error) string {
	var le *looplang.LoopError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}
