// Package dongle drives the WyzeSense USB bridge over a Linux hidraw node.
//
// The dongle speaks a small framed protocol on top of 64-byte HID reports.
// Every frame carries a two byte magic, a type (sync or async), a length,
// a command byte, the payload and a big-endian 16-bit checksum:
//
//	host -> dongle: AA 55 <type> <len> <cmd> <payload...> <csum hi> <csum lo>
//	dongle -> host: 55 AA <type> <len> <cmd> <payload...> <csum hi> <csum lo>
//
// Responses to a command arrive as cmd+1. Async frames sent by the dongle
// are acknowledged by the host with a 7 byte ACK frame.
//
// # Lifecycle
//
// Open opens the device, starts the single reader goroutine and runs the
// handshake (inquiry, key material, MAC, version, auth). Sensor events are
// decoded on the reader goroutine and passed to the caller's callback
// synchronously, so they are observed in the order the dongle emits them.
// Stop closes the device and waits for the reader to exit.
//
// # Usage
//
//	d, err := dongle.Open(ctx, "/dev/hidraw0", func(ev dongle.Event) {
//	    fmt.Println(ev.MAC, ev.Kind)
//	}, dongle.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer d.Stop()
//
//	macs, err := d.List(ctx)
package dongle
