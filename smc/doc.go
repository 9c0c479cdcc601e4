// Package smc is the command layer for the system management coprocessor.
//
// Commands ride a channel of a bootstrapped [mailbox.Transport]. A request
// packs the command byte, a four-character [Key], the payload size and a
// rotating sequence tag into one message; payloads themselves travel through
// a shared SRAM window that is only ever touched with 32-bit accesses.
//
//	c, err := smc.Open(t, mapper, smc.Endpoint, 0)
//	if err != nil {
//	    return err
//	}
//	err = c.WriteKey(smc.MustParseKey("gP01"), []byte{1, 0, 0, 0})
//
// [GPIO] builds pin control on top of WriteKey.
package smc
