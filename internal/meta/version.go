package meta

// VersionSHA is a build-time injected variable describing the Git commit SHA at which dnscash was
// built. It is used as a general purpose, global version identifier.
var VersionSHA string
