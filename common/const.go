package common

// Well-known task identifiers. The coordinator and the cleanup phase each
// have one fixed ID that is reused across runs; download workers derive
// theirs from the item key.
const (
	// MasterTaskID is the stable identifier of the coordinator task.
	// Workers address completion notifications to it.
	MasterTaskID = "master-workflow"

	// CleanupTaskID is the identifier of the cleanup phase child task.
	CleanupTaskID = "cleanup-workflow"

	// DownloadTaskPrefix is prepended to an item key to form the ID of the
	// download worker for that item.
	DownloadTaskPrefix = "download-workflow-"
)

// Task types registered with the orchestration engine.
const (
	MasterTaskType   = "MasterWorkflow"
	DownloadTaskType = "DownloadWorkflow"
	CleanupTaskType  = "CleanupWorkflow"
)

// SignalFileCompleted is the signal name carrying a FileCompleted payload
// from a download worker (or any external source) to the coordinator.
const SignalFileCompleted = "file_completed_download"

// EventMethod is the JSON-RPC push method used for engine events.
const EventMethod = "task.event"
