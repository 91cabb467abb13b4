package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/tes/emulator"
	"github.com/raywall/tes-dashboard/pkg/transport"
	"github.com/rs/zerolog/log"
)

// instanceConf descreve um TES emulado.
type instanceConf struct {
	Name  string `json:"name"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// Injetável para testes
var serverStarter = transport.StartHTTPServer

func main() {
	logger.Configure(config.LoggingConf{Enabled: true, Level: "info", Format: "console"})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv("EMULATOR_CONFIG")); err != nil {
		log.Fatal().Err(err).Msg("emulador encerrado")
	}
}

// loadInstances lê uma lista JSON; sem arquivo sobe uma instância na 8081.
func loadInstances(path string) ([]instanceConf, error) {
	if path == "" {
		return []instanceConf{{Name: "tes-emulator", Port: 8081}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []instanceConf
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("config do emulador inválida: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("config do emulador sem instâncias")
	}
	return list, nil
}

// run sobe uma instância por entrada e espera todas terminarem.
func run(ctx context.Context, path string) error {
	list, err := loadInstances(path)
	if err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ic := range list {
		opts := []emulator.Option{emulator.WithName(ic.Name)}
		if ic.Token != "" {
			opts = append(opts, emulator.WithToken(ic.Token))
		}
		srv := transport.NewHTTPServer(config.ServerConf{Port: ic.Port}, emulator.New(opts...).Handler())

		wg.Add(1)
		go func(name string, srv *http.Server) {
			defer wg.Done()
			log.Info().Str("instance", name).Str("addr", srv.Addr).Msg("TES emulado no ar")
			if err := serverStarter(ctx, srv); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(ic.Name, srv)
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
