// Package version exposes the gateway build version.
package version

// Version is the gateway release version. Overridden at build time via
// -ldflags "-X github.com/tachi-protocol/gateway/internal/version.Version=...".
var Version = "0.9.0-dev"
