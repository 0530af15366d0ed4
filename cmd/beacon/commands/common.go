package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/beacon/internal/printer"
	"github.com/dyluth/beacon/internal/status"
	"github.com/dyluth/beacon/internal/store"
	"github.com/gin-gonic/gin"
)

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the configured store, namespaced for one client.
func openStore(ctx context.Context, client string) (store.Store, error) {
	opts := appConfig.StoreOptions(client)
	st, err := store.Open(ctx, opts)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to open store",
			err.Error(),
			map[string]string{"Backend": opts.Backend, "Redis": opts.RedisURL},
			[]string{
				"Check that Redis is running and store.redis_url is correct",
				"Use store.backend: memory to keep state in memory only",
			},
		)
	}
	return st, nil
}

// startStatus serves reporter on listen, if set. The returned stop func is
// always safe to call.
func startStatus(reporter status.Reporter, listen string) (func(), error) {
	if listen == "" {
		return func() {}, nil
	}
	gin.SetMode(gin.ReleaseMode)
	srv := status.NewServer(reporter)
	if err := srv.Start(listen); err != nil {
		return nil, fmt.Errorf("failed to start status server on %s: %w", listen, err)
	}
	printer.Step("status endpoint on http://%s/state\n", srv.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

// readLines delivers trimmed input lines until EOF or ctx ends. The channel
// is closed at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// fields splits a command line into its verb and arguments.
func fields(line string) (string, []string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	return strings.ToLower(parts[0]), parts[1:]
}
