// Package channel provides the named publish/subscribe bus shared by plugins.
//
// Topics are created lazily on first reference and keep a fixed-size history
// taken from the bus default at creation time. Publishing never blocks: a
// receiver that falls more than one history window behind gets a
// *LaggedError on its next receive and resumes at the oldest retained
// message.
//
// Usage:
//
//	bus := channel.New(logger)
//	rx := bus.Subscribe("message")
//	defer rx.Close()
//	bus.Get("message").Send("Alive!")
//	msg, err := rx.Recv(ctx)
package channel
