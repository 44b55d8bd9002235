// Package serial implements the serial line-device bridge for Gray Logic.
//
// Controllers and sensors on the serial bus speak a tiny comma-separated line
// protocol. This package reads those lines, stores sensor readings, and turns
// a command observed on one device into a routed command written to a
// different device, tracking each routed command until the target
// acknowledges it or it expires.
//
// # Architecture
//
//	                 ┌──────────────┐  Record   ┌──────────────┐
//	 /dev/ttyUSB0 ──►│ Port Session │──────────►│  Log sink    │
//	                 └──────┬───────┘           └──────────────┘
//	                        │ Submit / Ack
//	                        ▼
//	                 ┌──────────────┐   Send    ┌──────────────┐
//	                 │    Engine    │──────────►│ Port Session │──► /dev/ttyUSB1
//	                 └──────────────┘           └──────────────┘
//
// Each port is owned by exactly one Session goroutine. The Engine goroutine
// is the only owner of the pending-request table; sessions reach it through
// a mailbox and it reaches the sessions through their Send method.
//
// # Wire Format
//
// Inbound lines have three fields:
//
//	SEN,temp_001,21.5      reading
//	CMD,ele_001,on         local command to route
//	ACK,ele_001,on         acknowledgment of a routed command
//
// Outbound routed commands carry the target device first:
//
//	ele_001,CMO,ele_001,on
//
// A routed command is sent to the first configured device (other than the
// origin) whose ID starts with "<metric>_".
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package serial
