// Package wire implements the binary length-prefixed protocol the TCP order
// entry server speaks, directly generalizing the teacher's
// internal/net/messages.go framing (fixed header + variable tail) from a
// single float64-priced order type to all five order types, decimal
// prices, slippage percent, buy budget and currency.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bourse/internal/domain"
)

var (
	ErrInvalidMessageType = errors.New("wire: invalid message type")
	ErrMessageTooShort    = errors.New("wire: message too short for declared length")
	ErrInvalidUUID        = errors.New("wire: invalid uuid")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	PlaceOrder
	CancelOrder
	ModifyOrder
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

const (
	baseHeaderLen = 2

	// 2(orderType) 2(currency) 8(price) 8(slippage*1e8) 8(quantity)
	// 8(buyBudget) 1(side) 8(userId) 8(stockId) — body length, excludes the
	// 2-byte type tag already consumed by baseHeaderLen.
	placeOrderHeaderLen = 2 + 2 + 8 + 8 + 8 + 8 + 1 + 8 + 8

	cancelOrderHeaderLen = 8 // orderId

	// orderId + newQuantity + hasPrice(1) + newPrice
	modifyOrderHeaderLen = 8 + 8 + 1 + 8
)

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

// decimalBits/decimalFromBits round-trip a decimal.Decimal through an
// int64 fixed-point representation at 1e8 scale, avoiding float64 for any
// money- or quantity-adjacent wire field (§9: money never crosses a
// float64 boundary).
const decimalScale = 100_000_000

func decimalBits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(decimalScale)).Round(0).IntPart()
}

func decimalFromBits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(decimalScale))
}

// PlaceOrderMessage carries a new order request for any of the five order
// types (§4.1 generalizes the teacher's single NewOrderMessage shape).
type PlaceOrderMessage struct {
	BaseMessage
	OrderType       domain.OrderType
	Currency        domain.Currency
	Price           decimal.Decimal
	SlippagePercent decimal.Decimal
	Quantity        int64
	BuyBudget       decimal.Decimal
	Side            domain.Side
	UserId          int64
	StockId         int64
}

func (m *PlaceOrderMessage) Order() domain.Order {
	return domain.Order{
		UserId:          m.UserId,
		StockId:         m.StockId,
		Currency:        m.Currency,
		Side:            m.Side,
		Type:            m.OrderType,
		Price:           m.Price,
		SlippagePercent: m.SlippagePercent,
		Quantity:        m.Quantity,
		BuyBudget:       m.BuyBudget,
		Status:          domain.Open,
	}
}

func EncodePlaceOrder(o domain.Order) []byte {
	buf := make([]byte, baseHeaderLen+placeOrderHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(PlaceOrder))
	off := baseHeaderLen
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(o.Type))
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(o.Currency))
	off += 2
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(decimalBits(o.Price)))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(decimalBits(o.SlippagePercent)))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(o.Quantity))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(decimalBits(o.BuyBudget)))
	off += 8
	buf[off] = byte(o.Side)
	off++
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(o.UserId))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(o.StockId))
	return buf
}

func parsePlaceOrder(msg []byte) (PlaceOrderMessage, error) {
	if len(msg) < placeOrderHeaderLen {
		return PlaceOrderMessage{}, ErrMessageTooShort
	}
	m := PlaceOrderMessage{BaseMessage: BaseMessage{TypeOf: PlaceOrder}}
	off := 0
	m.OrderType = domain.OrderType(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	m.Currency = domain.Currency(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	m.Price = decimalFromBits(int64(binary.BigEndian.Uint64(msg[off : off+8])))
	off += 8
	m.SlippagePercent = decimalFromBits(int64(binary.BigEndian.Uint64(msg[off : off+8])))
	off += 8
	m.Quantity = int64(binary.BigEndian.Uint64(msg[off : off+8]))
	off += 8
	m.BuyBudget = decimalFromBits(int64(binary.BigEndian.Uint64(msg[off : off+8])))
	off += 8
	m.Side = domain.Side(msg[off])
	off++
	m.UserId = int64(binary.BigEndian.Uint64(msg[off : off+8]))
	off += 8
	m.StockId = int64(binary.BigEndian.Uint64(msg[off : off+8]))
	return m, nil
}

// CancelOrderMessage requests cancellation of a resting order.
type CancelOrderMessage struct {
	BaseMessage
	OrderId int64
}

func EncodeCancelOrder(orderId int64) []byte {
	buf := make([]byte, baseHeaderLen+cancelOrderHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	binary.BigEndian.PutUint64(buf[baseHeaderLen:], uint64(orderId))
	return buf
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < cancelOrderHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	return CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrder},
		OrderId:     int64(binary.BigEndian.Uint64(msg[0:8])),
	}, nil
}

// ModifyOrderMessage requests a quantity and/or price change.
type ModifyOrderMessage struct {
	BaseMessage
	OrderId     int64
	NewQuantity int64
	HasNewPrice bool
	NewPrice    decimal.Decimal
}

func EncodeModifyOrder(orderId, newQuantity int64, newPrice *decimal.Decimal) []byte {
	buf := make([]byte, baseHeaderLen+modifyOrderHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(ModifyOrder))
	off := baseHeaderLen
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(orderId))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(newQuantity))
	off += 8
	if newPrice != nil {
		buf[off] = 1
		off++
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(decimalBits(*newPrice)))
	} else {
		buf[off] = 0
	}
	return buf
}

func parseModifyOrder(msg []byte) (ModifyOrderMessage, error) {
	if len(msg) < modifyOrderHeaderLen {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	m := ModifyOrderMessage{BaseMessage: BaseMessage{TypeOf: ModifyOrder}}
	off := 0
	m.OrderId = int64(binary.BigEndian.Uint64(msg[off : off+8]))
	off += 8
	m.NewQuantity = int64(binary.BigEndian.Uint64(msg[off : off+8]))
	off += 8
	m.HasNewPrice = msg[off] == 1
	off++
	if m.HasNewPrice {
		m.NewPrice = decimalFromBits(int64(binary.BigEndian.Uint64(msg[off : off+8])))
	}
	return m, nil
}

// ParseMessage decodes a length-delimited frame's payload (the 2-byte type
// tag followed by its body) into the concrete message type.
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) < baseHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[baseHeaderLen:]
	switch typeOf {
	case PlaceOrder:
		return parsePlaceOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case ModifyOrder:
		return parseModifyOrder(body)
	default:
		return nil, ErrInvalidMessageType
	}
}

// Report is the outbound execution/error frame, generalizing the teacher's
// Report struct (fixed header + variable message tail) to carry a
// ResultStatus and a correlation id instead of a raw counterparty name.
type Report struct {
	MessageType ReportMessageType
	Status      domain.ResultStatus
	OrderId     int64
	Timestamp   uint64
	Quantity    uint64
	Price       decimal.Decimal
	CorrelationId string
	MsgLen      uint32
	Msg         string
}

const reportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 16 + 4

// Serialize converts the report into its wire form: fixed header, a
// 16-byte correlation id slot (the raw bytes of a uuid.UUID, which is
// exactly 16 bytes and round-trips losslessly, unlike its 36-char string
// form), then the variable message tail.
func (r *Report) Serialize() ([]byte, error) {
	var id uuid.UUID
	if r.CorrelationId == "" {
		id = uuid.New()
		r.CorrelationId = id.String()
	} else {
		parsed, err := uuid.Parse(r.CorrelationId)
		if err != nil {
			return nil, fmt.Errorf("wire: invalid correlation id %q: %w", r.CorrelationId, err)
		}
		id = parsed
	}
	corrBytes := id[:]

	msgBytes := []byte(r.Msg)
	r.MsgLen = uint32(len(msgBytes))

	buf := make([]byte, reportFixedHeaderLen+len(msgBytes))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Status)
	binary.BigEndian.PutUint64(buf[2:10], r.Timestamp)
	binary.BigEndian.PutUint64(buf[10:18], r.Quantity)
	binary.BigEndian.PutUint64(buf[18:26], uint64(decimalBits(r.Price)))
	binary.BigEndian.PutUint64(buf[26:34], uint64(r.OrderId))
	copy(buf[34:50], corrBytes)
	binary.BigEndian.PutUint32(buf[50:54], r.MsgLen)
	copy(buf[54:], msgBytes)
	return buf, nil
}

// NewExecutionReport builds a Report for a settled/resting order result.
func NewExecutionReport(orderId int64, status domain.ResultStatus, price decimal.Decimal, quantity int64) Report {
	return Report{
		MessageType: ExecutionReport,
		Status:      status,
		OrderId:     orderId,
		Timestamp:   uint64(time.Now().UTC().UnixNano()),
		Quantity:    uint64(quantity),
		Price:       price,
	}
}

// NewErrorReport builds a Report carrying a rejection message, mirroring the
// teacher's generateWireErrorReports helper.
func NewErrorReport(err error) Report {
	msg := ""
	if err != nil {
		msg = fmt.Sprintf("%v", err)
	}
	return Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().UTC().UnixNano()),
		Msg:         msg,
	}
}
