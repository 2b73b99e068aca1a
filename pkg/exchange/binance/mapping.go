package binance

import (
	"strconv"

	binancesdk "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/gridcalc"
)

func decOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func stateFromSDK(status binancesdk.OrderStatusType) exchange.OrderState {
	switch status {
	case binancesdk.OrderStatusTypeFilled:
		return exchange.OrderStateFilled
	case binancesdk.OrderStatusTypePartiallyFilled:
		return exchange.OrderStatePartiallyFilled
	case binancesdk.OrderStatusTypeCanceled, binancesdk.OrderStatusTypeExpired:
		return exchange.OrderStateCancelled
	case binancesdk.OrderStatusTypeRejected:
		return exchange.OrderStateRejected
	default:
		return exchange.OrderStateNew
	}
}

func fromCreateOrderResponse(resp *binancesdk.CreateOrderResponse) *exchange.Order {
	order := &exchange.Order{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Symbol:          resp.Symbol,
		Side:            sideFromSDK(resp.Side),
		Type:            typeFromSDK(resp.Type),
		State:           stateFromSDK(resp.Status),
		Price:           decOrZero(resp.Price),
		Quantity:        decOrZero(resp.OrigQuantity),
		FilledQuantity:  decOrZero(resp.ExecutedQuantity),
		TimestampMillis: resp.TransactTime,
	}
	if order.FilledQuantity.GreaterThan(decimal.Zero) && resp.CummulativeQuoteQuantity != "" {
		cumQuote := decOrZero(resp.CummulativeQuoteQuantity)
		order.AvgFillPrice = cumQuote.Div(order.FilledQuantity)
	}
	return order
}

func fromOrder(resp *binancesdk.Order) *exchange.Order {
	order := &exchange.Order{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Symbol:          resp.Symbol,
		Side:            sideFromSDK(resp.Side),
		Type:            typeFromSDK(resp.Type),
		State:           stateFromSDK(resp.Status),
		Price:           decOrZero(resp.Price),
		Quantity:        decOrZero(resp.OrigQuantity),
		FilledQuantity:  decOrZero(resp.ExecutedQuantity),
		TimestampMillis: resp.Time,
	}
	if order.FilledQuantity.GreaterThan(decimal.Zero) && resp.CummulativeQuoteQuantity != "" {
		cumQuote := decOrZero(resp.CummulativeQuoteQuantity)
		order.AvgFillPrice = cumQuote.Div(order.FilledQuantity)
	}
	return order
}

func sideFromSDK(side binancesdk.SideType) exchange.OrderSide {
	if side == binancesdk.SideTypeSell {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

func typeFromSDK(t binancesdk.OrderType) exchange.OrderType {
	if t == binancesdk.OrderTypeMarket {
		return exchange.OrderTypeMarket
	}
	return exchange.OrderTypeLimit
}

func balancesFromAccount(account *binancesdk.Account) map[string]exchange.Balance {
	out := make(map[string]exchange.Balance, len(account.Balances))
	for _, b := range account.Balances {
		free := decOrZero(b.Free)
		locked := decOrZero(b.Locked)
		out[b.Asset] = exchange.Balance{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
			Total:  free.Add(locked),
		}
	}
	return out
}

func rulesFromSymbol(sym binancesdk.Symbol) gridcalc.PrecisionRules {
	rules := gridcalc.PrecisionRules{}
	for _, f := range sym.Filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			if v, ok := f["tickSize"].(string); ok {
				rules.TickSize = decOrZero(v)
			}
		case "LOT_SIZE":
			if v, ok := f["stepSize"].(string); ok {
				rules.StepSize = decOrZero(v)
			}
			if v, ok := f["minQty"].(string); ok {
				rules.MinQty = decOrZero(v)
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if v, ok := f["minNotional"].(string); ok {
				rules.MinNotional = decOrZero(v)
			}
		}
	}
	return rules
}
