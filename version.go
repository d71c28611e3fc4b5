// Package shipwright automates a two-sided release: a local pipeline that
// commits, pushes and builds, and a remote pipeline that pulls, installs,
// migrates and warms caches when triggered over HTTP.
package shipwright

// Version is the shipwright release version.
const Version = "v0.3.0"
