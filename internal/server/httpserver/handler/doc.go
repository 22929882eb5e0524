// Package handler provides the HTTP handlers of the admin and read API.
//
// Handlers decode and validate the request, call the presence directory,
// the arbiter manager or the cluster view, and answer with the standard
// envelope {code, message, request_id, timestamp, data}. Domain error codes
// map to HTTP status codes by suffix.
package handler
