package leasekeeper

// Version of the leasekeeper binaries. It is overridden at build time
// using -ldflags "-X isc.org/leasekeeper.Version=...".
var Version = "1.2.0"

// Build date overridden at build time.
var BuildDate = "unset"
