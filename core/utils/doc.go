// Package utils holds small conversion helpers shared by store adapters and the sync engine.
package utils
