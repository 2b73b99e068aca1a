package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"

	"spotgrid-engine/internal/cli"
	"spotgrid-engine/internal/config"
	"spotgrid-engine/internal/svc"
	"spotgrid-engine/internal/webhook"
)

func main() {
	logx.MustSetup(logx.LogConf{})
	logx.DisableStat()

	c := config.MustLoad()
	cli.LogConfigSummary(c)

	svcCtx := svc.NewServiceContext(*c)

	server := rest.MustNewServer(c.RestConf)
	webhook.RegisterRoutes(server, c.Webhook.Path, svcCtx.Router)
	server.AddRoute(rest.Route{
		Method:  http.MethodGet,
		Path:    "/metrics",
		Handler: promhttp.Handler().ServeHTTP,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logx.Infof("webhook server listening on %s:%d%s", c.Host, c.Port, c.Webhook.Path)
		server.Start()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runFillMonitor(ctx, svcCtx, time.Duration(c.FillMonitor.PollIntervalSeconds)*time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runRiskEngine(ctx, svcCtx, time.Duration(c.Risk.TimerCheckIntervalSeconds)*time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runQueuePromotion(ctx, svcCtx, time.Duration(c.Queue.PollIntervalSeconds)*time.Second)
	}()

	logx.Info("engine started, press Ctrl+C to stop")
	<-ctx.Done()
	logx.Info("shutdown signal received, stopping server and loops...")
	server.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-done:
		logx.Info("all loops stopped cleanly")
	case <-shutdownCtx.Done():
		logx.Info("shutdown timeout exceeded, forcing exit")
	}
}

// runFillMonitor drives C8 on a fixed cadence, running once immediately
// so a restart doesn't wait a full interval to notice fills that
// happened while the process was down.
func runFillMonitor(ctx context.Context, svcCtx *svc.ServiceContext, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svcCtx.FillMonitor.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logx.Info("fill monitor: stopping")
			return
		case <-ticker.C:
			svcCtx.FillMonitor.Tick(ctx)
		}
	}
}

// runRiskEngine drives C9 on a fixed cadence.
func runRiskEngine(ctx context.Context, svcCtx *svc.ServiceContext, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svcCtx.RiskEngine.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logx.Info("risk engine: stopping")
			return
		case <-ticker.C:
			svcCtx.RiskEngine.Tick(ctx)
		}
	}
}

// runQueuePromotion sweeps every user's queue for slots freed by closes
// (risk-engine offsets, manual exits, take-profit closes) that the
// webhook admission path itself never observes.
func runQueuePromotion(ctx context.Context, svcCtx *svc.ServiceContext, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	promote := func() {
		users, err := svcCtx.Users.ListAll(ctx)
		if err != nil {
			logx.WithContext(ctx).Errorf("queue promotion: listing users failed: %v", err)
			return
		}
		for _, u := range users {
			if err := svcCtx.Router.PromoteQueued(ctx, u.ID, u.Risk.MaxOpenPositionsGlobal); err != nil {
				logx.WithContext(ctx).Errorf("queue promotion: user %s failed: %v", u.ID, err)
			}
		}
	}

	promote()
	for {
		select {
		case <-ctx.Done():
			logx.Info("queue promotion: stopping")
			return
		case <-ticker.C:
			promote()
		}
	}
}
