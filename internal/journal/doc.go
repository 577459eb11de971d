// Package journal persists finished device requests and the device inventory
// to SQLite so they can be queried after the fact.
//
// SQLiteRepository is the Repository backed by the tables in package
// migrations. The telemetry pump feeds it terminal requests through Record
// and keeps the inventory table in step through DeviceRegistered and
// DeviceRemoved.
//
// Rows are kept until Prune removes those finished before a cutoff. List
// pages through them newest first, DefaultLimit rows at a time unless the
// Filter asks for more (capped at MaxLimit).
package journal
