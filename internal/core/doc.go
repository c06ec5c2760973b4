// Package core is the device inventory ingestion engine.
//
// It owns everything between raw CSV bytes and storage: encoding detection,
// header and row validation, primary key derivation, category table
// provisioning, transactional upserts and the service/category catalog.
// It has no transport dependencies and is driven by the HTTP server and the
// CLI alike.
//
// # Batch Flow
//
// [Service.Ingest] takes one batch through these states:
//
//  1. received: bytes accepted, a slot taken from the [UploadLimiter]
//  2. validated: decoded by [DetectEncoding], parsed by [ParseBatch], keyed
//     by [Classify]; bad lines become [RejectedRow] values
//  3. transaction_open: one storage transaction for the whole batch
//  4. tables_provisioned: device_info and every category table exist
//  5. rows_applied: canonical and extended rows upserted
//  6. committed, or rolled_back with nothing persisted
//
// Catalog registration runs after commit and only produces warnings.
//
// # Tables
//
// device_info holds the six fixed columns of every device account, keyed by
// "<service>_<category>_<entity>_<account>". Each (service, category) pair
// gets a category table named by [CategoryTableName] holding the batch's
// extra columns as text. A category table's columns are fixed when it is
// created; later batches with different columns store what matches and
// report the rest in IngestResult.IgnoredAttributes.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages by [MapError]. Each
// category has a code for support reference:
//
//   - DB001-DB008: storage errors
//   - VAL003-VAL010: header and row validation
//   - FILE001-FILE006: encoding and file format
//   - UPL002-UPL005: upload concurrency and timeouts
//   - TBL001, CAT001-CAT002: lookups
package core
