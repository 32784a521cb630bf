// Package dedupe provides a bounded, time-limited window of seen keys.
// Push channels use it to skip events they already delivered when the same
// event arrives through both live dispatch and polling catch-up.
package dedupe
