// Package platform holds OS-specific process hardening.
package platform
