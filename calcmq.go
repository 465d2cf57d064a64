// Package calcmq provides a request/reply calculation service over named
// message queues.
//
// # Architecture
//
// A Producer tags each CalculationRequest with a fresh correlation id and the
// name of its reply queue, enqueues it on the shared request queue and polls
// the reply queue for the matching CalculationResponse. A Consumer drains the
// request queue, runs the Calculator and publishes responses on the queue
// named by each request. A Service owns the Consumer goroutine for the
// lifetime of a server process.
//
// Both sides talk to the queues through a Connection, which gates a Transport
// strategy chosen at construction time:
//   - MemoryTransport: in-process FIFO queues (MemoryQueues)
//   - ZMQTransport: a ZeroMQ DEALER client of a Broker that owns the queues
//   - NATSTransport: NATS subjects with queue-group subscriptions
//
// # Quick Start
//
// In-process (both sides share one MemoryQueues):
//
//	queues := calcmq.NewMemoryQueues()
//	cfg := calcmq.DefaultConfig()
//
//	server := calcmq.NewService(
//	    calcmq.NewConnection(calcmq.NewMemoryTransport(queues), logger),
//	    calcmq.ServiceConfigFrom(cfg), logger)
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
//	client := calcmq.NewProducer(
//	    calcmq.NewConnection(calcmq.NewMemoryTransport(queues), logger),
//	    calcmq.ProducerConfigFrom(cfg), logger)
//	defer client.Close()
//
//	resp := client.Add(context.Background(), 10, 5) // resp.Result == 15
//
// Across processes, run a Broker (examples/queue_broker) and point both sides
// at it with Config.Transport = "zmq", or use a NATS server with
// Config.Transport = "nats".
package calcmq

// Version is the current library version
const Version = "1.0.0"
