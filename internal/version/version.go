package version

// Version is stamped at build time via -ldflags; "dev" for local builds.
var Version = "dev"
