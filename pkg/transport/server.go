package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// NewHTTPServer monta o http.Server com os timeouts da configuração.
func NewHTTPServer(conf config.ServerConf, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Port),
		Handler:           handler,
		ReadTimeout:       conf.GetReadTimeout(),
		ReadHeaderTimeout: conf.GetReadTimeout(),
		WriteTimeout:      conf.GetWriteTimeout(),
	}
}

// StartHTTPServer serve até ctx ser cancelado e então faz o shutdown gracioso.
func StartHTTPServer(ctx context.Context, srv *http.Server) error {
	log := logger.Component("http")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Servidor HTTP ouvindo")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Encerrando servidor HTTP")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("falha no shutdown do servidor: %w", err)
	}
	return nil
}
