// Package undo records snapshots of row tables before mutations and
// restores them on undo and redo, with one history per route.
//
// A route key names the navigational context the user is in (a page, a
// dataset view). Undo and Redo only ever touch the active route's history.
// Histories for at most MaxRoutes routes are kept; the route created
// earliest is evicted first.
//
// Snapshots hold row fields only. AppData is never captured; on restore the
// live AppData is carried onto the restored rows by index, at every depth.
//
// Tables are referenced weakly. A table dropped by its owner can be
// collected even while snapshots of it remain; such snapshots are skipped.
package undo
