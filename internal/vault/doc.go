// Package vault implements the encrypted on-disk store of password entries.
//
// A Storage owns one vault file. Initialize either creates it (fresh salt,
// empty collection, persisted immediately) or opens it by deriving the key
// from the passphrase and decrypting the entry collection. Every mutating
// call re-serializes the whole collection, re-encrypts it with a fresh nonce
// and atomically replaces the file; a failed save leaves both the previous
// file and the in-memory collection as they were.
//
// Storage is not safe for concurrent use. One process drives a vault at a
// time and concurrent writers to the same file are last-write-wins.
package vault
