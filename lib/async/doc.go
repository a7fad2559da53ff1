// Package async provides the background task processors used for index maintenance,
// continuous-query evaluation and notification delivery.
//
// A Processor is a FIFO task queue (util.MPSCQueue) serviced by a fixed number of worker
// goroutines. With one worker, tasks run strictly in submission order. With more workers
// tasks are started in submission order but may complete out of order.
package async
