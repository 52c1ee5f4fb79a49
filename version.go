package swarmai

// Version is the current SwarmAI core version.
// Overridden at build time via -ldflags "-X github.com/northpeakmalaysia/swarmai.Version=...".
var Version = "dev"
