// Package fs provides a filesystem adapter storing one record file per key
// beneath a root directory. Keys are path-like: "user/1" maps to
// <root>/user/1.json (the extension follows the configured codec).
//
// The adapter declares a reduced capability set without batch operations; a
// dispatcher bound to it degrades gracefully by rejecting createMany and
// deleteMany before they reach the backend.
//
// Change notifications are native: a recursive fsnotify watch on the root
// translates filesystem events into record notifications, so mutations made
// by other processes on the same directory tree are observed as well. File
// creates map to create events, writes to updateOne events and removals to
// delete events. Notification delivery is asynchronous relative to the
// mutating call.
package fs
