package controllers

import "github.com/rzbill/tether/internal/queue"

// syncReq asks for an immediate replay pass of one tenant.
type syncReq struct {
	Tenant string `json:"tenant"`
}

// tenantBacklog is one row of the tenant overview.
type tenantBacklog struct {
	Tenant  string `json:"tenant"`
	Pending int    `json:"pending"`
}

// queueListResp lists one tenant's pending records, oldest first.
type queueListResp struct {
	Tenant  string                `json:"tenant"`
	Total   int                   `json:"total"`
	Pending []queue.QueuedRequest `json:"pending"`
}

// healthResp reports storage health, last observed connectivity and the
// total backlog.
type healthResp struct {
	Status  string `json:"status"`
	Online  bool   `json:"online"`
	Pending int    `json:"pending"`
}

// cachePurgeResp reports how many cached responses a purge dropped.
type cachePurgeResp struct {
	Tenant string `json:"tenant"`
	Purged int    `json:"purged"`
}
