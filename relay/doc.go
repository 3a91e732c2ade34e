// Package relay carries signals raised by module code out of a worker.
//
// Module code calls the _post_signal(hi, lo) import; the worker's Relay turns
// each call into exactly one Signal posted to an Outbox. Nothing is
// transformed, filtered or deduplicated, and calls are relayed in order.
//
// A Signal is a 64-bit value split into two 32-bit halves because the wasm32
// import ABI passes them as two i32 parameters:
//
//	s := relay.SignalOf(0x0000_002a_0000_0007)
//	s.Hi, s.Lo // 0x2a, 0x7
//	s.Value()  // 0x0000_002a_0000_0007
//
// Mailbox is an unbounded FIFO outbox whose Post never blocks the calling
// thread; a pump goroutine hands items to the receive channel in order.
package relay
