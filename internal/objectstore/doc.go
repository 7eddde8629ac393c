// Package objectstore stores order assets in S3.
//
// Keys are hierarchical ("custom-tshirt/{id}/{unixNano}-{name}"). Uploads never
// overwrite one another because every key embeds a nanosecond timestamp.
// Deletes are idempotent, listings are lazy and restartable, and signed URLs
// are issued without checking that the key exists.
package objectstore
