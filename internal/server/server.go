// Package server is the TCP order-entry front door: it frames/unframes
// internal/wire messages over net.Conn, dispatches PlaceOrder/CancelOrder/
// ModifyOrder requests to an execution.Service, and writes wire.Report
// frames back to the originating connection. It generalizes the teacher's
// internal/net/server.go (WorkerPool-driven connections, a clientSessions
// map guarded by a mutex, a tomb.v2-supervised accept loop and
// sessionHandler) from a single NewOrder/CancelOrder/LogBook protocol to the
// five order types and Modify that this exchange supports. The teacher's
// own internal/server/server.go was a gRPC debug-server stub referencing a
// fenrir/internal/protocol package that was never committed to the teacher
// repo (dead even there); this package takes its place.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/domain"
	"bourse/internal/wire"
)

const (
	maxFrameSize       = 4 * 1024
	lengthPrefixSize   = 4
	defaultWorkerCount = 10
	readTimeout        = 5 * time.Second
)

var (
	errImproperTask = errors.New("server: improper task conversion")
)

// Engine is the subset of execution.Service the order-entry server drives.
// Declared locally so this package doesn't import execution directly and
// can be exercised against a fake in tests.
type Engine interface {
	PlaceAndMatch(ctx context.Context, order domain.Order) domain.OrderResult
	Cancel(ctx context.Context, orderId int64) domain.OrderResult
	Modify(ctx context.Context, orderId int64, newQuantity int64, newPrice *decimal.Decimal) domain.OrderResult
}

// clientMessage links a parsed wire message to the connection it arrived on.
type clientMessage struct {
	clientAddress string
	message       wire.Message
}

// Server is the TCP order-entry listener.
type Server struct {
	address string
	engine  Engine

	pool   WorkerPool
	cancel context.CancelFunc

	sessionsLock sync.Mutex
	sessions     map[string]net.Conn

	inbox chan clientMessage
}

func New(address string, engine Engine) *Server {
	return &Server{
		address:  address,
		engine:   engine,
		pool:     NewWorkerPool(defaultWorkerCount),
		sessions: make(map[string]net.Conn),
		inbox:    make(chan clientMessage, 64),
	}
}

func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections until ctx is cancelled, dispatching each to the
// worker pool and fanning parsed messages through a single session handler
// (teacher's shape: WorkerPool.Setup + sessionHandler as sibling tomb
// goroutines, with a synchronous accept loop driving AddTask).
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.address, err)
	}
	defer listener.Close()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})
	t.Go(func() error {
		<-t.Dying()
		return listener.Close()
	})

	log.Info().Str("address", s.address).Msg("server: order entry listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return t.Wait()
			default:
				log.Error().Err(err).Msg("server: accept failed")
				continue
			}
		}
		s.addSession(conn)
		s.pool.AddTask(conn)
	}
}

// handleConnection reads exactly one length-prefixed frame off conn, parses
// it and forwards it to the session handler, then re-queues the connection
// for its next frame. Any read/parse failure drops the session.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return errImproperTask
	}

	addr := conn.RemoteAddr().String()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	lenBuf := make([]byte, lengthPrefixSize)
	if _, err := readFull(conn, lenBuf); err != nil {
		s.closeSession(addr, conn)
		return nil
	}
	frameLen := binary.BigEndian.Uint32(lenBuf)
	if frameLen == 0 || frameLen > maxFrameSize {
		log.Warn().Uint32("frameLen", frameLen).Str("address", addr).Msg("server: rejecting oversized frame")
		s.closeSession(addr, conn)
		return nil
	}

	body := make([]byte, frameLen)
	if _, err := readFull(conn, body); err != nil {
		s.closeSession(addr, conn)
		return nil
	}

	msg, err := wire.ParseMessage(body)
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("server: failed to parse frame")
		s.reportError(addr, err)
		s.pool.AddTask(conn)
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	case s.inbox <- clientMessage{clientAddress: addr, message: msg}:
	}
	s.pool.AddTask(conn)
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// sessionHandler drains parsed messages one at a time and dispatches them;
// this serializes order submission the same way the teacher's single
// sessionHandler goroutine does.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.inbox:
			s.dispatch(cm)
		}
	}
}

func (s *Server) dispatch(cm clientMessage) {
	ctx := context.Background()
	switch m := cm.message.(type) {
	case wire.PlaceOrderMessage:
		result := s.engine.PlaceAndMatch(ctx, m.Order())
		s.reportResult(cm.clientAddress, result)
	case wire.CancelOrderMessage:
		result := s.engine.Cancel(ctx, m.OrderId)
		s.reportResult(cm.clientAddress, result)
	case wire.ModifyOrderMessage:
		var newPrice *decimal.Decimal
		if m.HasNewPrice {
			p := m.NewPrice
			newPrice = &p
		}
		result := s.engine.Modify(ctx, m.OrderId, m.NewQuantity, newPrice)
		s.reportResult(cm.clientAddress, result)
	default:
		s.reportError(cm.clientAddress, wire.ErrInvalidMessageType)
	}
}

// reportResult turns an execution result into a wire.Report and writes it
// back to the originating connection.
func (s *Server) reportResult(clientAddress string, result domain.OrderResult) {
	var orderId int64
	price := decimal.Zero
	var quantity int64
	if result.Order != nil {
		orderId = result.Order.OrderId
		price = result.Order.Price
	}
	for _, tr := range result.Trades {
		quantity += tr.Quantity
	}
	report := wire.NewExecutionReport(orderId, result.Status, price, quantity)
	if !result.OK() {
		report.Msg = result.Message
	}
	s.writeReport(clientAddress, report)
}

func (s *Server) reportError(clientAddress string, err error) {
	s.writeReport(clientAddress, wire.NewErrorReport(err))
}

func (s *Server) writeReport(clientAddress string, report wire.Report) {
	s.sessionsLock.Lock()
	conn, ok := s.sessions[clientAddress]
	s.sessionsLock.Unlock()
	if !ok {
		log.Warn().Str("address", clientAddress).Msg("server: no session for report")
		return
	}

	body, err := report.Serialize()
	if err != nil {
		log.Error().Err(err).Msg("server: failed to serialize report")
		return
	}
	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)

	if _, err := conn.Write(frame); err != nil {
		log.Error().Err(err).Str("address", clientAddress).Msg("server: write failed, dropping session")
		s.closeSession(clientAddress, conn)
	}
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[conn.RemoteAddr().String()] = conn
}

func (s *Server) closeSession(address string, conn net.Conn) {
	s.sessionsLock.Lock()
	delete(s.sessions, address)
	s.sessionsLock.Unlock()
	conn.Close()
}
