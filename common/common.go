// Package common holds identifiers shared across msgbid components.
package common

// PackageName identifies this module in logs and metrics.
const PackageName = "github.com/whitead/msgbid"

// Version is the build version, overridable at link time.
var Version = "dev"
