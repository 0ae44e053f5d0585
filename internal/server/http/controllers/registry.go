package controllers

import (
	"github.com/go-chi/chi/v5"
	"github.com/rzbill/tether/internal/runtime"
	"github.com/rzbill/tether/pkg/log"
)

// AdminPrefix roots the relay's own endpoints. Every other path is proxied.
const AdminPrefix = "/_tether/v1"

// ControllerRegistry manages all HTTP controllers.
//
// It owns the admin, events and proxy controllers and mounts them on a
// single chi router.
type ControllerRegistry struct {
	general *GeneralController
	events  *EventsController
	proxy   *ProxyController
}

// NewControllerRegistry creates a new controller registry over rt.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		events:  NewEventsController(rt, logger),
		proxy:   NewProxyController(rt, logger),
	}
}

// RegisterAllRoutes registers admin routes under AdminPrefix and the
// catch-all proxy for everything else.
func (r *ControllerRegistry) RegisterAllRoutes(router chi.Router) {
	router.Route(AdminPrefix, func(sub chi.Router) {
		r.general.RegisterRoutes(sub)
		r.events.RegisterRoutes(sub)
	})
	r.proxy.RegisterRoutes(router)
}
