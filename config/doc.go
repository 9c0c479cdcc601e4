// Package config loads the mboxctl configuration from YAML.
//
// Every field has a default, so a file only names what differs:
//
//	backend: devmem
//	reservation:
//	  top: 0x1000000000
//	smc:
//	  gpio_masks:
//	    1: 0x10000
package config
