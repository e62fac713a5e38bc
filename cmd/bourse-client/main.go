// Command bourse-client is a flag-driven order-entry CLI, generalizing the
// teacher's cmd/client/client.go (flag.String CLI flags, an async
// readReports goroutine) from a single float64-priced limit/market order
// shape to the five order types internal/wire encodes, plus modify.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bourse/internal/domain"
	"bourse/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange order-entry listener")
	userIdFlag := flag.Int64("user", 0, "user id placing the order (required)")
	stockIdFlag := flag.Int64("stock", 0, "stock id (required for place)")
	action := flag.String("action", "place", "action: place, cancel, modify")

	sideStr := flag.String("side", "buy", "buy or sell")
	typeStr := flag.String("type", "limit", "limit, market, or slippage")
	currencyStr := flag.String("currency", "USD", "settlement currency")
	price := flag.Float64("price", 0, "limit price, or slippage anchor price")
	slippagePct := flag.Float64("slippage", 1, "slippage percent, for -type slippage")
	qty := flag.Int64("qty", 10, "quantity")
	buyBudget := flag.Float64("budget", 0, "cash budget, for -type market -side buy")

	orderId := flag.Int64("order", 0, "order id, for cancel/modify")
	newQty := flag.Int64("newqty", 0, "new quantity, for modify")
	newPrice := flag.Float64("newprice", 0, "new price, for modify (0 = unchanged)")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("connecting to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", *serverAddr)

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "place":
		if *userIdFlag == 0 || *stockIdFlag == 0 {
			log.Fatal("-user and -stock are required for -action place")
		}
		order := buildOrder(*userIdFlag, *stockIdFlag, *sideStr, *typeStr, *currencyStr, *price, *slippagePct, *qty, *buyBudget)
		if err := sendFrame(conn, wire.EncodePlaceOrder(order)); err != nil {
			log.Fatalf("sending place order: %v", err)
		}
		fmt.Printf("-> placed %s %s qty=%d price=%s\n", order.Side, order.Type, order.Quantity, order.Price)

	case "cancel":
		if *orderId == 0 {
			log.Fatal("-order is required for -action cancel")
		}
		if err := sendFrame(conn, wire.EncodeCancelOrder(*orderId)); err != nil {
			log.Fatalf("sending cancel: %v", err)
		}
		fmt.Printf("-> cancel requested for order %d\n", *orderId)

	case "modify":
		if *orderId == 0 {
			log.Fatal("-order is required for -action modify")
		}
		var np *decimal.Decimal
		if *newPrice != 0 {
			d := decimal.NewFromFloat(*newPrice)
			np = &d
		}
		if err := sendFrame(conn, wire.EncodeModifyOrder(*orderId, *newQty, np)); err != nil {
			log.Fatalf("sending modify: %v", err)
		}
		fmt.Printf("-> modify requested for order %d\n", *orderId)

	default:
		log.Fatalf("unknown action %q", *action)
	}

	fmt.Println("listening for reports... (Ctrl+C to exit)")
	select {}
}

func buildOrder(userId, stockId int64, sideStr, typeStr, currencyStr string, price, slippagePct float64, qty int64, buyBudget float64) domain.Order {
	side := domain.Buy
	if strings.EqualFold(sideStr, "sell") {
		side = domain.Sell
	}

	var orderType domain.OrderType
	switch strings.ToLower(typeStr) {
	case "market":
		if side == domain.Buy {
			orderType = domain.TrueMarketBuy
		} else {
			orderType = domain.TrueMarketSell
		}
	case "slippage":
		if side == domain.Buy {
			orderType = domain.SlippageMarketBuy
		} else {
			orderType = domain.SlippageMarketSell
		}
	default:
		if side == domain.Buy {
			orderType = domain.LimitBuy
		} else {
			orderType = domain.LimitSell
		}
	}

	return domain.Order{
		UserId:          userId,
		StockId:         stockId,
		Currency:        parseCurrency(currencyStr),
		Side:            side,
		Type:            orderType,
		Price:           decimal.NewFromFloat(price),
		SlippagePercent: decimal.NewFromFloat(slippagePct),
		Quantity:        qty,
		BuyBudget:       decimal.NewFromFloat(buyBudget),
		Status:          domain.Open,
	}
}

func parseCurrency(s string) domain.Currency {
	for _, c := range domain.SupportedCurrencies {
		if strings.EqualFold(c.String(), s) {
			return c
		}
	}
	return domain.USD
}

// sendFrame prefixes body with its 4-byte big-endian length, matching
// internal/server's framing.
func sendFrame(conn net.Conn, body []byte) error {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	_, err := conn.Write(append(lenBuf, body...))
	return err
}

// readReports drains length-prefixed wire.Report frames from the server and
// prints them, mirroring the teacher's async readReports goroutine.
func readReports(conn net.Conn) {
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}
		n := binary.BigEndian.Uint32(lenBuf)
		body := make([]byte, n)
		if _, err := io.ReadFull(conn, body); err != nil {
			log.Printf("error reading report body: %v", err)
			os.Exit(0)
		}

		report, err := parseReport(body)
		if err != nil {
			log.Printf("error parsing report: %v", err)
			continue
		}

		if report.MessageType == wire.ErrorReport {
			fmt.Printf("\n[REJECTED] %s\n", report.Msg)
			continue
		}
		fmt.Printf("\n[EXECUTION] order=%d status=%s qty=%d price=%s at=%s\n",
			report.OrderId, report.Status, report.Quantity, report.Price,
			time.Unix(0, int64(report.Timestamp)).UTC().Format(time.RFC3339))
	}
}

const reportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 16 + 4

// parseReport is the client-side mirror of wire.Report.Serialize.
func parseReport(msg []byte) (wire.Report, error) {
	if len(msg) < reportFixedHeaderLen {
		return wire.Report{}, fmt.Errorf("report too short: %d bytes", len(msg))
	}
	r := wire.Report{
		MessageType: wire.ReportMessageType(msg[0]),
		Status:      domain.ResultStatus(msg[1]),
		Timestamp:   binary.BigEndian.Uint64(msg[2:10]),
		Quantity:    binary.BigEndian.Uint64(msg[10:18]),
		Price:       decimal.NewFromInt(int64(binary.BigEndian.Uint64(msg[18:26]))).Div(decimal.NewFromInt(100_000_000)),
		OrderId:     int64(binary.BigEndian.Uint64(msg[26:34])),
	}
	id, err := uuid.FromBytes(msg[34:50])
	if err == nil {
		r.CorrelationId = id.String()
	}
	msgLen := binary.BigEndian.Uint32(msg[50:54])
	if int(msgLen) > 0 && len(msg) >= reportFixedHeaderLen+int(msgLen) {
		r.Msg = string(msg[54 : 54+int(msgLen)])
	}
	return r, nil
}
