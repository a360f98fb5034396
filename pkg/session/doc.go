// Package session owns conversation state: an append-only turn log per
// external session key, created lazily on first reference and mirrored
// to a JSONL file so interactive conversations survive restarts.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Turns are only ever appended, never edited or removed.
// - Mirror writes for the same session are serialized.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/k8sai/sessions")
//	conv, _ := mgr.GetOrCreate(ctx, "ops-1")
//	_ = conv.Append(session.UserTurn("list pods"))
//	turns := conv.Snapshot()
//	_ = turns
//
// Same-session serialization across invocations is not enforced here;
// callers submit agent invocations through pkg/lane, which guarantees
// at most one in-flight invocation per session.
package session
