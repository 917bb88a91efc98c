package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/tessellate/internal/auth"
	httpapi "github.com/mistakeknot/tessellate/internal/http"
	"github.com/mistakeknot/tessellate/internal/server"
	"github.com/mistakeknot/tessellate/internal/storage/sqlite"
	"github.com/mistakeknot/tessellate/internal/ws"
)

func newServeCommand() *cobra.Command {
	var (
		configPath    string
		addr          string
		socketPath    string
		dbPath        string
		keysPath      string
		sweepInterval time.Duration
		sweepGrace    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			addr = resolveSetting(flags.Changed("addr"), addr, cfg.Addr, "TESSELLATE_ADDR")
			socketPath = resolveSetting(flags.Changed("socket"), socketPath, cfg.Socket, "TESSELLATE_SOCKET")
			dbPath = resolveSetting(flags.Changed("db"), dbPath, cfg.DB, "TESSELLATE_DB")
			keysPath = resolveSetting(flags.Changed("keys"), keysPath, cfg.Keys, "TESSELLATE_KEYS_FILE")
			if sweepInterval, err = resolveDuration(flags.Changed("sweep-interval"), sweepInterval, cfg.SweepInterval, "sweep_interval"); err != nil {
				return err
			}
			if sweepGrace, err = resolveDuration(flags.Changed("sweep-grace"), sweepGrace, cfg.SweepGrace, "sweep_grace"); err != nil {
				return err
			}

			base, err := sqlite.New(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			store := sqlite.NewResilient(base)
			defer store.Close()

			if keysPath == "" {
				keysPath = auth.ResolveKeysPath()
			}
			keyring, err := auth.LoadKeyring(keysPath)
			if err != nil {
				return fmt.Errorf("load keyring: %w", err)
			}

			hub := ws.NewHub()
			svc := httpapi.NewService(store).
				WithBroadcaster(hub).
				WithBreakerState(store.BreakerState)
			router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(keyring))

			srv, err := server.New(server.Config{
				Addr:       addr,
				SocketPath: socketPath,
				Handler:    router,
			})
			if err != nil {
				return fmt.Errorf("server init: %w", err)
			}

			sweeper := sqlite.NewSweeper(store, sweepInterval, sweepGrace)
			sweeper.Start(cmd.Context())
			defer sweeper.Stop()

			errCh := make(chan error, 1)
			go func() {
				log.Printf("listening on %s", addr)
				errCh <- srv.Start()
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			case <-sig:
				log.Printf("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "tessellate.yaml", "optional YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":7448", "TCP listen address")
	cmd.Flags().StringVar(&socketPath, "socket", "", "optional unix socket path")
	cmd.Flags().StringVar(&dbPath, "db", "tessellate.db", "path to the database file")
	cmd.Flags().StringVar(&keysPath, "keys", "", "path to the API keys file")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Minute, "how often to sweep expired rows")
	cmd.Flags().DurationVar(&sweepGrace, "sweep-grace", time.Hour, "how long expired rows stay visible before removal")
	return cmd
}
