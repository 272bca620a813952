package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gatewaynetwork/go-txgateway/buildinfo"
)

// InfraController defines the HTTP handlers for infrastructure APIs.
type InfraController struct {
}

// NewInfraController creates a new InfraController.
func NewInfraController() *InfraController {
	return &InfraController{}
}

type versionResponse struct {
	GitCommit string `json:"gitCommit"`
	GitBranch string `json:"gitBranch"`
	BuildDate string `json:"buildDate"`
	Version   string `json:"version"`
}

// Version returns git information of the running binary.
func (c *InfraController) Version(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(versionResponse{
		GitCommit: buildinfo.GitCommit,
		GitBranch: buildinfo.GitBranch,
		BuildDate: buildinfo.BuildDate,
		Version:   buildinfo.Version,
	})
}
