// Package dedupe remembers recently processed provider message ids so a
// webhook redelivery inside the configured window is ignored.
package dedupe
