//go:build !unix

package platform

// DisableCoreDumps is a no-op on platforms without core limits.
func DisableCoreDumps() error { return nil }
