// Package sheetdb stores a workbook of named tabs in SQLite.
//
// Each tab is an ordered list of rows. A row is stored as the canonical
// JSON of its payload record, so nested lists round-trip and identical
// content always produces identical bytes.
//
// The workbook is the source behind snapshot stores: FetchTab and SaveTab
// have the signatures of snapshot.FetchFunc and snapshot.SaveFunc and take
// the arguments built by TabArgs. Source wraps them as a registry source
// keyed by the workbook path.
//
// # Schema
//
// schema.sql creates the base tables on every open. Later changes are
// numbered migrations tracked in PRAGMA user_version.
//
// Row order is the position column; every query orders by it.
package sheetdb
