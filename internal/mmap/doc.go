// Package mmap maps local ANN artifacts read-only so graphs can be decoded
// without copying them onto the heap.
package mmap
