// Package persistence keeps access counters and recent attempt records across
// restarts.
//
// State is a small JSON file rewritten after every attempt. Only outcomes
// are stored: badge numbers, decisions and reasons. Nonces, random
// responses and the device key never reach disk.
package persistence
