// Command opctl is the operator's manual override surface: promote a
// specific queued signal ahead of its rank, force-enqueue a replayed
// webhook, force-close a stuck group, or print the last heartbeat of
// every background loop, bypassing the engine's normal admission and
// risk checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"spotgrid-engine/internal/config"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/svc"
)

// healthLoopNames mirrors the heartbeat names the fill monitor and risk
// engine publish under (internal/fillmonitor and internal/risk); opctl
// has no dependency on those packages so the names are repeated here.
var healthLoopNames = []string{"fill_monitor", "risk_engine"}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	verb := flag.String("verb", "", "promote-signal | force-close | force-add | health")
	signalID := flag.String("signal-id", "", "queued signal id, for -verb=promote-signal")
	groupID := flag.String("group-id", "", "position group id, for -verb=force-close")
	reason := flag.String("reason", "operator override", "audit reason recorded with the action")
	userID := flag.String("user-id", "", "for -verb=force-add")
	exchangeName := flag.String("exchange", "", "for -verb=force-add")
	symbol := flag.String("symbol", "", "for -verb=force-add")
	timeframe := flag.String("timeframe", "", "for -verb=force-add")
	side := flag.String("side", "buy", "buy | sell, for -verb=force-add")
	entryPrice := flag.String("entry-price", "", "for -verb=force-add")
	flag.Parse()

	logx.MustSetup(logx.LogConf{Mode: "console"})
	logx.DisableStat()

	c := config.MustLoad()
	svcCtx := svc.NewServiceContext(*c)
	ctx := context.Background()

	switch *verb {
	case "promote-signal":
		if *signalID == "" {
			fatalf("opctl: -signal-id is required for -verb=promote-signal")
		}
		sig, err := svcCtx.QueueManager.PromoteSpecific(ctx, *signalID)
		if err != nil {
			fatalf("opctl: promote signal %s failed: %v", *signalID, err)
		}
		fmt.Printf("promoted signal %s (user=%s symbol=%s)\n", sig.ID, sig.UserID, sig.Symbol)
	case "force-close":
		if *groupID == "" {
			fatalf("opctl: -group-id is required for -verb=force-close")
		}
		group, err := svcCtx.Position.ForceClose(ctx, *groupID, *reason)
		if err != nil {
			fatalf("opctl: force-close group %s failed: %v", *groupID, err)
		}
		fmt.Printf("closed group %s status=%s realized_pnl_usd=%s\n", group.ID, group.Status, group.RealizedPnLUSD)
	case "force-add":
		if *userID == "" || *exchangeName == "" || *symbol == "" || *timeframe == "" {
			fatalf("opctl: -user-id, -exchange, -symbol and -timeframe are required for -verb=force-add")
		}
		price, err := decimal.NewFromString(*entryPrice)
		if err != nil {
			fatalf("opctl: invalid -entry-price %q: %v", *entryPrice, err)
		}
		orderSide := domain.SideBuy
		if *side == "sell" {
			orderSide = domain.SideSell
		}
		sig, err := svcCtx.QueueManager.ForceAdd(ctx, &domain.QueuedSignal{
			ID:                  uuid.NewString(),
			UserID:              *userID,
			Exchange:            *exchangeName,
			Symbol:              *symbol,
			Timeframe:           *timeframe,
			Side:                orderSide,
			EntryPrice:          price,
			PriorityExplanation: *reason,
		})
		if err != nil {
			fatalf("opctl: force-add failed: %v", err)
		}
		fmt.Printf("force-added signal %s (user=%s symbol=%s)\n", sig.ID, sig.UserID, sig.Symbol)
	case "health":
		for _, name := range healthLoopNames {
			h, err := svcCtx.Lock.GetServiceHealth(ctx, name)
			if err != nil {
				fmt.Printf("%-12s error: %v\n", name, err)
				continue
			}
			if h == nil {
				fmt.Printf("%-12s unknown (no heartbeat published)\n", name)
				continue
			}
			age := time.Since(h.Timestamp).Round(time.Second)
			fmt.Printf("%-12s %-6s age=%-8s last_seen=%s\n", h.Name, h.Status, age, h.Timestamp.Format(time.RFC3339))
		}
	default:
		fatalf("opctl: unknown -verb %q, expected promote-signal, force-close, force-add or health", *verb)
	}
}
