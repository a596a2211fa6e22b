package retrievo

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/retrievo"
	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/server"
	"github.com/soundprediction/retrievo/pkg/types"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the retrievo HTTP server",
	Long: `Start the retrievo HTTP server, providing REST access to the query path,
the sync service and the health endpoints.

Without external engine configuration the server runs against in-process
memory engines, which is useful for development and integration testing.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serverCmd.Flags().IntVar(&serverPort, "port", 0, "server port (overrides config)")
	serverCmd.Flags().StringVar(&serverMode, "mode", "", "gin mode: debug, release, test (overrides config)")
	serverCmd.Flags().Bool("watch-config", false, "reload configuration when the file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	overrides := map[string]interface{}{}
	if serverHost != "" {
		overrides["server.host"] = serverHost
	}
	if serverPort > 0 {
		overrides["server.port"] = serverPort
	}
	if serverMode != "" {
		overrides["server.mode"] = serverMode
	}
	watch, _ := cmd.Flags().GetBool("watch-config")

	engines := &engine.Set{
		Relational: engine.NewMemory(types.EngineRelational),
		Keyword:    engine.NewMemory(types.EngineKeyword),
		Vector:     engine.NewMemory(types.EngineVector),
	}

	client, err := retrievo.New(retrievo.Options{
		ConfigPath:      cfgFile,
		Engines:         engines,
		ConfigOverrides: overrides,
		WatchConfig:     watch,
	})
	if err != nil {
		return fmt.Errorf("initialize retrievo: %w", err)
	}
	defer client.Close()

	srv := server.New(client.Config().Current(), client)
	srv.Setup()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "received %s, shutting down\n", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
