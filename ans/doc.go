// Package ans boots the storage coprocessor that fronts the NVMe controller.
//
// The coprocessor is brought up over its own mailbox. Its buffer requests
// are served from the reservation it shares with the other mailbox clients,
// and the coprocessor can only reach that memory once a SART (DMA address
// filter) slot covers it. [Probe] opens a slot over exactly the memory
// granted during its bootstrap, then waits for the firmware to report
// BootStatusOK.
package ans
