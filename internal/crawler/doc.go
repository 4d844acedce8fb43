// Package crawler defines the record types, persistence outcomes, and the small
// interfaces shared by the fetch engine, the extraction step, and the storage
// pipeline of the dealnews crawler.
package crawler
