package config

// Version is the geodexd binary version.
// Set at build time via: -ldflags "-X github.com/geodex/geodex/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
