// Package tunnel exposes the HTTP handler on a public ngrok endpoint so
// bins can receive traffic from outside the local network.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"

	"github.com/Shivanand-hulikatti/hookdock/internal/config"
)

// Tunnel is a running ngrok endpoint serving the router.
type Tunnel struct {
	listener ngrok.Tunnel
	server   *http.Server
}

// Start opens the endpoint and serves h on it in the background. Serve
// errors are sent to errCh.
func Start(ctx context.Context, cfg config.Ngrok, h http.Handler, log zerolog.Logger, errCh chan<- error) (*Tunnel, error) {
	var endpointOpts []ngrokconfig.HTTPEndpointOption
	if cfg.Domain != "" {
		endpointOpts = append(endpointOpts, ngrokconfig.WithDomain(cfg.Domain))
	}

	connectOpt := ngrok.WithAuthtokenFromEnv()
	if cfg.AuthToken != "" {
		connectOpt = ngrok.WithAuthtoken(cfg.AuthToken)
	}

	ln, err := ngrok.Listen(ctx, ngrokconfig.HTTPEndpoint(endpointOpts...), connectOpt)
	if err != nil {
		return nil, fmt.Errorf("open ngrok tunnel: %w", err)
	}

	t := &Tunnel{listener: ln, server: &http.Server{Handler: h}}
	go func() {
		log.Info().Str("url", ln.URL()).Msg("public tunnel listening")
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ngrok serve: %w", err)
		}
	}()
	return t, nil
}

// Shutdown stops serving and closes the tunnel.
func (t *Tunnel) Shutdown(ctx context.Context) error {
	err := t.server.Shutdown(ctx)
	_ = t.listener.Close()
	return err
}
