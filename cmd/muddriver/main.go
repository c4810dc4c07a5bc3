// Command muddriver runs the driver as a standalone process: it loads
// configuration, wires the application, and serves connections until an
// operator signal asks it to shut down.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jasona/mudforge-sub010/internal/app"
	"github.com/jasona/mudforge-sub010/internal/connection"
	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/pkg/config"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

func main() {
	tcpAddr := flag.String("tcp-addr", "", "address for the optional raw-TCP transport (e.g. :4001); disabled when empty")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty, Output: "stdout"})

	opts := []app.Option{
		app.WithLogger(appLog),
		app.WithLoginHandler(&guestLogin{}),
	}
	if trimmed := strings.TrimSpace(*tcpAddr); trimmed != "" {
		opts = append(opts, app.WithTCPTransport(trimmed))
	}

	application, err := app.New(cfg, opts...)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	appLog.Infof("driver listening on %s:%d", cfg.Server.Host, cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		appLog.Info("shutdown signal received")
	case reason := <-application.ShutdownRequests():
		appLog.WithField("reason", reason).Info("shutdown requested by efuns.shutdown")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// guestLogin is the driver's built-in default LoginHandler: every connecting
// client is bound to a freshly cloned guest player, with no credential check
// at all. Real authentication against mudlib account data is out of this
// repository's scope (per connection.LoginHandler's doc), so this exists only
// to make the binary runnable out of the box; embedders supply their own
// connection.LoginHandler via app.WithLoginHandler to replace it.
type guestLogin struct {
	counter int64
}

func (g *guestLogin) Greeting() string {
	return "Welcome. Enter a name to continue as a guest.\n"
}

func (g *guestLogin) HandleLine(conn *connection.Connection, line string) (*object.Object, connection.AuthOutcome, string) {
	name := strings.TrimSpace(line)
	if name == "" {
		return nil, connection.AuthPending, "Name? "
	}

	n := atomic.AddInt64(&g.counter, 1)
	guest := object.New("/players/guest#"+strconv.FormatInt(n, 10), object.KindClone)
	guest.SetProperty("name", name)
	return guest, connection.AuthSucceeded, ""
}

func (g *guestLogin) HandleFrame(conn *connection.Connection, tag string, payload map[string]any) (*object.Object, connection.AuthOutcome, string) {
	return nil, connection.AuthPending, ""
}
