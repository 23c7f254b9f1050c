// Package pool
// Author: momentics <momentics@gmail.com>
//
// Byte buffers for the frame engine. Buffer is a fixed-capacity byte region
// with separate read and write cursors, so that input can be appended,
// consumed and compacted in place without reallocation. BufferPool recycles
// buffers per capacity across sessions.
package pool
