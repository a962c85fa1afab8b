// Package setup holds host-level paths and the checks run before a build.
//
// Its functions run before any build service exists, so it is the one
// package that logs through a package-level logger instead of an injected one.
package setup
