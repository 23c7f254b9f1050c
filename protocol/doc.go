// Package protocol holds the RFC 6455 wire level pieces of wsengine:
// opcodes, close codes and reasons, frame header encoding and incremental
// decoding, and payload masking.
//
// Author: momentics <momentics@gmail.com>
package protocol
