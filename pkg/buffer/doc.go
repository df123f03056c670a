// Package buffer provides a bounded, non-blocking ring buffer with
// selectable overflow behavior.
//
// The live feed gives every WebSocket client one DropOldest buffer of
// outbound frames: a client that stops reading loses its oldest frames
// while the publisher keeps running at full speed. Nothing in this
// package ever blocks a writer; a full buffer either evicts or sheds
// according to the policy.
//
// # Basic use
//
//	queue, err := buffer.NewCircularBuffer[Frame](256,
//	    buffer.WithOverflowPolicy[Frame](buffer.DropOldest),
//	    buffer.WithDropCallback[Frame](func(Frame) {
//	        droppedTotal.Inc()
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//
//	_ = queue.Write(frame) // never blocks
//
//	for {
//	    frame, ok := queue.Read()
//	    if !ok {
//	        break
//	    }
//	    send(frame)
//	}
//
// # Overflow policies
//
// DropOldest (the default) evicts from the tail so the newest items
// survive; it suits feeds where stale data has no value. DropNewest
// discards the incoming item and preserves the backlog; it suits
// queues drained in order where established work should not be
// displaced.
//
// Either way the discarded item is handed to the WithDropCallback
// func, outside the buffer lock.
//
// # Shutdown
//
// Close rejects further writes but leaves buffered items readable, so
// the consumer side can drain what was accepted before tearing down.
//
// # Observability
//
// Stats returns always-on counters (writes, reads, drops, overflow
// events, size high-water mark). WithMetrics additionally publishes
// them as amistreams_buffer_* Prometheus series labeled with the
// owning component.
package buffer
