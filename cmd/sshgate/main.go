// Command sshgate runs the SSH remote-execution gateway: it loads the host
// allowlist, bootstraps the embedded audit store, starts the background
// maintenance worker, and serves the stdio tool protocol until stdin closes
// or a termination signal arrives. After a signal, the gateway loop stops
// once the next input line or EOF is read (see gateway.Serve).
//
// Grounded on the teacher's cmd/appos/main.go wiring order (app construction,
// migration blank-import, worker start/shutdown hooks); unlike appos,
// sshgate never calls app.Start() to serve HTTP — pocketbase.New() here is
// used purely as an embedded SQLite store for the audit log.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"

	"github.com/fabber/sshgate/internal/audit"
	"github.com/fabber/sshgate/internal/config"
	"github.com/fabber/sshgate/internal/gateway"

	// Register the audit_logs collection migration.
	_ "github.com/fabber/sshgate/internal/migrations"

	"github.com/fabber/sshgate/internal/sshcore"
	"github.com/fabber/sshgate/internal/worker"
)

func main() {
	configPath := os.Getenv("SSHGATE_CONFIG")
	if configPath == "" {
		configPath = "sshgate.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("sshgate: %v", err)
	}
	log.Printf("sshgate: loaded %d host(s) from %s", len(cfg.Hosts), configPath)

	app := pocketbase.New()
	if err := app.Bootstrap(); err != nil {
		log.Fatalf("sshgate: bootstrap audit store: %v", err)
	}
	sink := audit.NewSink(app)

	manager := sshcore.NewManager(cfg.Hosts, sshcore.SSHDialer{})

	w := worker.New(config.RedisAddr(), manager, sink)
	w.Start()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("sshgate: signal received, shutting down")
		cancel()
	}()

	gw := gateway.New(manager, sink, w)
	if err := gw.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.Printf("sshgate: gateway loop exited: %v", err)
	}

	manager.DisconnectAll()
	w.Shutdown()
	log.Printf("sshgate: shutdown complete")
}
