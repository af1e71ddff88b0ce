// Package auth provides API key authentication for the HTTP surface.
package auth
