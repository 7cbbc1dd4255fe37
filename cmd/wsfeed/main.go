// Command wsfeed wires a Manager end to end against a configured
// exchange and prints every received frame and lifecycle signal to
// stdout, grounded on the teacher's cmd/gateway main (signal-context
// construction, staged graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/streamkeeper/internal/buffer"
	"github.com/coachpo/streamkeeper/internal/config"
	"github.com/coachpo/streamkeeper/internal/license"
	"github.com/coachpo/streamkeeper/internal/manager"
	"github.com/coachpo/streamkeeper/internal/observability"
)

const (
	defaultConfigPath   = "config/wsfeed.yaml"
	shutdownTimeout     = 15 * time.Second
	pollInterval        = 50 * time.Millisecond
)

func main() {
	exchange, configPath, endpoint, channels, markets := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "wsfeed ", log.LstdFlags|log.Lmicroseconds)

	opts, err := config.LoadOrDefault(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	opts.EnableStreamSignalBuffer = true
	if opts.LicenseKey == "" {
		opts.LicenseKey = "local-demo"
	}

	observability.SetLogger(observability.NewZerologLogger())

	mgr, err := manager.New(ctx, manager.Deps{
		Exchange: exchange,
		Options:  opts,
		License:  license.AllowAll{},
	})
	if err != nil {
		logger.Fatalf("construct manager: %v", err)
	}

	streamID, err := mgr.CreateStream(ctx, endpoint, channels, markets, manager.StreamOptions{})
	if err != nil {
		logger.Fatalf("create stream: %v", err)
	}
	logger.Printf("stream created: id=%s endpoint=%s channels=%v markets=%v", streamID, endpoint, channels, markets)

	done := make(chan struct{})
	go pumpStreamBuffer(ctx, logger, mgr, done)
	go pumpSignalBuffer(ctx, logger, mgr, done)

	<-ctx.Done()
	logger.Print("shutdown signal received, stopping manager")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	mgr.StopManager(shutdownCtx)
	close(done)

	logger.Print("shutdown complete")
}

func parseFlags() (exchange, configPath, endpoint string, channels, markets []string) {
	exchangeFlag := flag.String("exchange", "bybit", "exchange name from the connection table")
	configFlag := flag.String("config", defaultConfigPath, "path to the YAML options file")
	endpointFlag := flag.String("endpoint", "public/spot", "stream endpoint path")
	channelsFlag := flag.String("channels", "trade", "comma-separated channel list")
	marketsFlag := flag.String("markets", "BTCUSDT", "comma-separated market list")
	flag.Parse()
	return *exchangeFlag, *configFlag, *endpointFlag, splitCSV(*channelsFlag), splitCSV(*marketsFlag)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func pumpStreamBuffer(ctx context.Context, logger *log.Logger, mgr *manager.Manager, done <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			for {
				v, ok := mgr.PopStreamDataFromStreamBuffer("", buffer.PopFIFO)
				if !ok {
					break
				}
				fmt.Printf("frame: %+v\n", v)
			}
		}
	}
}

func pumpSignalBuffer(ctx context.Context, logger *log.Logger, mgr *manager.Manager, done <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			for {
				sig, ok := mgr.PopStreamSignalFromStreamSignalBuffer()
				if !ok {
					break
				}
				logger.Printf("signal: %s stream=%s", sig.Type, sig.StreamID)
			}
		}
	}
}
