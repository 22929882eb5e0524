// Package gateway serves the websocket endpoint that connectors use.
//
// Frames are JSON objects {topic, event, payload, ref} in the style of
// Phoenix channels. A socket joins topics with phx_join and leaves them
// with phx_leave; every message carrying a ref receives a phx_reply whose
// payload is {status: "ok"|"error", response}. Heartbeats are sent on the
// "phoenix" topic.
//
// Topics:
//
//	connector:<id>          registers the connector bound to this socket
//	room:<room_id>:<kind>   lease operations and updates on one resource
//	presence:connectors     read-only feed of presence events
//	owner:<owner_id>        read-only feed of one owner's connectors
//
// Closing the socket closes its process handle, so the presence directory
// marks its connectors offline and their leases follow the arbiter's
// disconnect policy.
package gateway
