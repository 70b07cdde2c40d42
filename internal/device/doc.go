// Package device is the template and device registry.
//
// Templates are named bundles of attribute definitions. A device binds one
// or more templates and may replace the default static value of any of
// their attributes or metadata entries with an override of its own. A
// device's view is always derived: template defaults are never modified.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                              Registry                                  │
//	│                                                                        │
//	│  ┌────────────────┐  ┌────────────────┐  ┌────────────────────────┐   │
//	│  │    Service     │  │ TemplateService│  │       Importer         │   │
//	│  │  (service.go)  │  │                │  │      (import.go)       │   │
//	│  │ • create/update│  │ • CRUD         │  │ • replace tenant data  │   │
//	│  │ • batch.go     │  │ • attr diff    │  └────────────────────────┘   │
//	│  │ • psk.go       │  └────────────────┘                               │
//	│  └───────┬────────┘                                                   │
//	│          │ stages via                                                  │
//	│  ┌───────▼────────┐  ┌────────────────┐  ┌────────────────────────┐   │
//	│  │   Assembler    │─▶│ LoadTemplates  │  │    ResolveOverrides    │   │
//	│  │ (assembler.go) │  │ (aggregator.go)│  │     (override.go)      │   │
//	│  └───────┬────────┘  └────────────────┘  └────────────────────────┘   │
//	└──────────│────────────────────────────────────────────────────────────┘
//	           ▼
//	┌──────────────────────┐        ┌──────────────────────┐
//	│  Store / Tx          │        │  Notifier            │
//	│  (sqlite_store.go)   │        │  (internal/notify)   │
//	└──────────────────────┘        └──────────────────────┘
//
// # Units of work
//
// Every operation opens one Tx, stages its writes and commits once. The
// Assembler only stages; the calling operation decides whether to commit.
// Events are published after the commit, so a rolled back operation never
// announces anything.
//
// # Errors
//
// Failures carry a stable reason code. *ValidationError is malformed input,
// *BusinessError is a domain rule violated by the current data. Both match
// their sentinels with errors.Is:
//
//	if errors.Is(err, device.ErrLabelInUse) {
//	    // handle the taken label
//	}
//
// The batch orchestrator is the only caller that recovers: it records a
// BusinessError per device and carries on.
package device
