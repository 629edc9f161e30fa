package executor

import (
	"log/slog"

	"github.com/venuesync/backend/internal/actions"
	"github.com/venuesync/backend/internal/circuitbreaker"
)

// Connectors configures the venue's external services. A service with no
// base URL is left out of the registry.
type Connectors struct {
	POS        ConnectorConfig
	Eventbrite ConnectorConfig
	OpenDate   ConnectorConfig
}

type registrar interface {
	Register(reg *Registry) error
}

// NewVenueRegistry registers every configured adapter, each behind its
// own breaker from breakers.
func NewVenueRegistry(c Connectors, breakers *circuitbreaker.Manager) (*Registry, error) {
	reg := NewRegistry()
	for _, svc := range []struct {
		service actions.Service
		cfg     ConnectorConfig
		adapter func(*Connector) registrar
	}{
		{actions.ServicePOS, c.POS, func(conn *Connector) registrar { return NewPOS(conn) }},
		{actions.ServiceEventbrite, c.Eventbrite, func(conn *Connector) registrar { return NewEventbrite(conn) }},
		{actions.ServiceOpenDate, c.OpenDate, func(conn *Connector) registrar { return NewOpenDate(conn) }},
	} {
		if svc.cfg.BaseURL == "" {
			slog.Warn("connector not configured, actions disabled", "service", svc.service)
			continue
		}
		var breaker *circuitbreaker.CircuitBreaker
		if breakers != nil {
			breaker = breakers.Get(string(svc.service))
		}
		conn := NewConnector(string(svc.service), svc.cfg, breaker)
		if err := svc.adapter(conn).Register(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
