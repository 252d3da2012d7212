// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — alloc-free cold-path logging
//
// Purpose:
//   - Logs infrequent queue lifecycle events without heap pressure.
//   - Used only in cold paths: registration, quality dump, bench phases.
//
// Notes:
//   - Avoids fmt to keep footprint and latency minimal.
//   - Plain string concatenation, single stderr write per message.
//
// ⚠️ Never invoke in hot loops — use only in setup/teardown diagnostics.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import "kpq/utils"

// DropError logs an error with an identifying prefix. A nil error prints the
// prefix alone, which callers use for tagged one-shot warnings.
//
//go:nosplit
//go:inline
//go:registerparams
func DropError(prefix string, err error) {
	if err != nil {
		utils.PrintWarning(prefix + ": " + err.Error() + "\n")
	} else {
		utils.PrintWarning(prefix + "\n")
	}
}

// DropMessage logs a tagged progress message. Cold paths only: thread
// registration, phase transitions, quality log persistence.
//
//go:nosplit
//go:inline
//go:registerparams
func DropMessage(prefix, message string) {
	utils.PrintWarning(prefix + ": " + message + "\n")
}
