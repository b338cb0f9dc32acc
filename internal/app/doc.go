// Package app wires the licensing service together: configuration, the
// license store, the service layer, the chi router and the HTTP server
// lifecycle. It owns startup order and graceful shutdown.
package app
