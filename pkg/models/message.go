package models

import "time"

const (
	UnknownPackageID = "unknown"
	UnknownModuleID  = "UNKNOWN"
)

// StatusMessage is the normalized form of one instrument status file. The JSON
// field names are the wire contract between ingest-service and apply-service.
type StatusMessage struct {
	PackageID    string         `json:"PackageID"`
	Modules      []ModuleUpdate `json:"Modules"`
	TimestampUtc time.Time      `json:"TimestampUtc"`
}

type ModuleUpdate struct {
	ModuleCategoryID string `json:"ModuleCategoryID"`
	ModuleState      string `json:"ModuleState"`
}

// ModuleRecord is the persisted latest state of a module.
type ModuleRecord struct {
	ModuleCategoryID string `json:"moduleCategoryId"`
	ModuleState      string `json:"moduleState"`
	LastUpdatedUtc   string `json:"lastUpdatedUtc"`
}
