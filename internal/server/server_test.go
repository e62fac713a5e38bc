package server

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
	"bourse/internal/wire"
)

type fakeEngine struct {
	placed   []domain.Order
	cancels  []int64
	modifies []int64
	result   domain.OrderResult
}

func (f *fakeEngine) PlaceAndMatch(ctx context.Context, order domain.Order) domain.OrderResult {
	f.placed = append(f.placed, order)
	return f.result
}

func (f *fakeEngine) Cancel(ctx context.Context, orderId int64) domain.OrderResult {
	f.cancels = append(f.cancels, orderId)
	return f.result
}

func (f *fakeEngine) Modify(ctx context.Context, orderId int64, newQuantity int64, newPrice *decimal.Decimal) domain.OrderResult {
	f.modifies = append(f.modifies, orderId)
	return f.result
}

func TestDispatch_PlaceOrderInvokesEngineAndReportsResult(t *testing.T) {
	order := domain.Order{OrderId: 9, Price: decimal.NewFromInt(100)}
	eng := &fakeEngine{result: domain.Success(&order, nil)}
	s := New("unused", eng)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	s.addSession(serverConn)

	done := make(chan struct{})
	go func() {
		s.dispatch(clientMessage{
			clientAddress: serverConn.RemoteAddr().String(),
			message: wire.PlaceOrderMessage{
				OrderType: domain.LimitBuy,
				Currency:  domain.USD,
				Price:     decimal.NewFromInt(100),
				Quantity:  10,
				Side:      domain.Buy,
				UserId:    1,
				StockId:   2,
			},
		})
		close(done)
	}()

	frame := readFrame(t, clientConn)
	<-done

	require.Len(t, eng.placed, 1)
	assert.Equal(t, domain.LimitBuy, eng.placed[0].Type)
	assert.NotEmpty(t, frame)
}

func TestDispatch_CancelOrderInvokesEngineCancel(t *testing.T) {
	eng := &fakeEngine{result: domain.OrderResult{Status: domain.StatusSuccess}}
	s := New("unused", eng)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	s.addSession(serverConn)

	done := make(chan struct{})
	go func() {
		s.dispatch(clientMessage{
			clientAddress: serverConn.RemoteAddr().String(),
			message:       wire.CancelOrderMessage{OrderId: 42},
		})
		close(done)
	}()
	readFrame(t, clientConn)
	<-done

	require.Len(t, eng.cancels, 1)
	assert.EqualValues(t, 42, eng.cancels[0])
}

func TestDispatch_ModifyOrderPassesNewPriceWhenPresent(t *testing.T) {
	eng := &fakeEngine{result: domain.OrderResult{Status: domain.StatusSuccess}}
	s := New("unused", eng)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	s.addSession(serverConn)

	done := make(chan struct{})
	go func() {
		s.dispatch(clientMessage{
			clientAddress: serverConn.RemoteAddr().String(),
			message: wire.ModifyOrderMessage{
				OrderId:     7,
				NewQuantity: 5,
				HasNewPrice: true,
				NewPrice:    decimal.NewFromInt(50),
			},
		})
		close(done)
	}()
	readFrame(t, clientConn)
	<-done

	require.Len(t, eng.modifies, 1)
	assert.EqualValues(t, 7, eng.modifies[0])
}

func TestPlaceOrderRoundTrip_OverLoopbackTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listener.Close()
	addr := listener.Addr().String()

	order := domain.Order{OrderId: 1, Price: decimal.NewFromInt(10)}
	eng := &fakeEngine{result: domain.Success(&order, nil)}
	s := New(addr, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	body := wire.EncodePlaceOrder(domain.Order{
		Type:     domain.LimitBuy,
		Currency: domain.USD,
		Price:    decimal.NewFromInt(10),
		Quantity: 3,
		Side:     domain.Buy,
		UserId:   1,
		StockId:  1,
	})
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	_, err = conn.Write(append(lenBuf, body...))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	respLen := make([]byte, 4)
	_, err = readFull(conn, respLen)
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(respLen)
	assert.Greater(t, n, uint32(0))
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	lenBuf := make([]byte, 4)
	_, err := readFull(conn, lenBuf)
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenBuf)
	body := make([]byte, n)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return body
}
