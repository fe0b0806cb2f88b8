// Package frame encodes and decodes the varint length prefix that turns a
// payload into a frame.
package frame
