// Package core holds the relay's shared contracts: configuration and its
// loaders, the runtime environment operations report through, the error
// envelope and the storage and job seams. It must not import the provider or
// store packages.
package core
