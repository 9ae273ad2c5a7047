package serve

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
)

// startManagementServer serves the health, readiness and metrics routes on
// their own port. With neither protocol enabled it falls back to plaintext.
func startManagementServer(cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}
	rs, err := listen("management", cfg, handler)
	if err != nil {
		return nil, err
	}
	log.Info("Management server listening", "addr", rs.Addr)
	return rs, nil
}
