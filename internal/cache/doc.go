// Package cache holds the cold list: the LRU of blobs that no connection
// depends on anymore and that may be evicted to free memory.
package cache
