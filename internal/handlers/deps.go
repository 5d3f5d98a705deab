package handlers

import (
	"time"

	"integration-service/internal/store"
	"integration-service/internal/syncengine"
)

var (
	orchestrator    *syncengine.Orchestrator
	recordStore     *store.RecordStore
	connTestTimeout = 10 * time.Second
)

// Init wires the handler package to the sync engine and record store. Must
// be called once at startup, before routes are served.
func Init(orc *syncengine.Orchestrator, records *store.RecordStore, testTimeout time.Duration) {
	orchestrator = orc
	recordStore = records
	if testTimeout > 0 {
		connTestTimeout = testTimeout
	}
}
