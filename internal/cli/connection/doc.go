// Package connection talks to the syncroom-server admin API.
//
// Every JSON response is wrapped in the standard envelope
// {code, message, request_id, timestamp, data}; ParseResponse unwraps
// data on success and turns error envelopes into *APIError.
package connection
