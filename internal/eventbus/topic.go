package eventbus

import "github.com/yndnr/syncroom-go/internal/core/domain"

// PresenceTopic carries every connector lifecycle event in the cluster.
const PresenceTopic = "presence:connectors"

// Event types.
const (
	ConnectorRegistered    = "connector_registered"
	ConnectorUnregistered  = "connector_unregistered"
	ConnectorStatusChanged = "connector_status_changed"

	ControllerChanged       = "controller_changed"
	ControlRequested        = "control_requested"
	ControlRequestDismissed = "control_request_dismissed"
	ControlRequestCancelled = "control_request_cancelled"
	StateUpdated            = "state_updated"
)

// ResourceTopic is the per-resource topic for lease and payload events.
func ResourceTopic(id domain.ResourceID) string {
	return "resource:" + id.String()
}

// OwnerTopic is the per-user topic for owner-scoped notifications.
func OwnerTopic(ownerID string) string {
	return "owner:" + ownerID
}
