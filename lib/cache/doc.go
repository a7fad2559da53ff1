// Package cache provides the in-memory object cache that hosts the query engine.
//
// A Cache stores opaque values together with their query metadata (type, attributes,
// tags and named tags). Every mutation updates the attribute indexes of the entry's type
// and is handed to the continuous query analyzer, which turns it into change
// notifications for the registered queries. Notifications are fanned out to the clients
// subscribed to a query, honoring the data filter each client asked for, and buffered
// in per client inboxes that are drained with Poll or consumed from Subscribe.
//
// Entries are kept in a fixed number of xsync maps selected by a seeded hash of the key.
// Mutations are serialized by one write mutex so index maintenance and query evaluation
// observe them in a single order; reads are lock free.
//
// SaveState and LoadState checkpoint the entries and the continuous query registrations.
// Query predicates are rebuilt from the predicate.Spec JSON stored as the query's command
// text, so every query registered through RegisterQuery survives a restore.
package cache
