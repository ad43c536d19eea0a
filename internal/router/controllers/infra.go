package controllers

import (
	"net/http"

	"github.com/textileio/go-tradesubmit/buildinfo"
)

// InfraController defines the HTTP handlers for infrastructure APIs.
type InfraController struct{}

// NewInfraController creates a new InfraController.
func NewInfraController() *InfraController {
	return &InfraController{}
}

// Version returns build information of the running binary.
func (c *InfraController) Version(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, buildinfo.GetSummary())
}

// Health reports the service is up.
func (c *InfraController) Health(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
}
