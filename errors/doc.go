// Package errors provides standardized error handling for the flow canvas core.
//
// # Error Classification
//
// Errors fall into three classes:
//
//   - Transient: storage unavailable, busy re-entrancy guards, context expiry
//   - Invalid: rejected requests such as self loops, duplicates, unknown nodes
//   - Fatal: canvas bring-up failures and corrupted documents
//
// The core never retries on its own. Classification exists so that callers
// can decide what to do with a failure.
//
// # Canvas Error Kinds
//
// Each rejection has a sentinel that callers match with errors.Is:
//
//	line, err := previews.CreatePreviewLine(src, dst, previewline.CreateOptions{})
//	if errors.Is(err, errs.ErrDuplicatePreviewLine) {
//	    // already showing this connection
//	}
//
// Kind(err) returns the stable name of the sentinel ("SelfLoop",
// "LimitExceeded", ...) for event payloads and JSON error bodies.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format "component.method: action failed: cause":
//
//	return errors.WrapInvalid(err, "previewline", "CreatePreviewLine", "validate source node")
//
// Sentinels are preserved through wrapping so errors.Is keeps working.
package errors
