// Package http contains the chi HTTP handlers for the licensing API:
// the purchase webhook, device admission, validation queries and health.
// Handlers bind and validate requests, delegate to the services layer and
// translate domain errors into structured responses.
package http
