// Package dedupe provides a time-bounded reply cache so that a retried request
// is answered with its original reply instead of being applied twice.
package dedupe
