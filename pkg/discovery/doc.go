// Package discovery advertises and finds door controllers over mDNS/DNS-SD.
//
// # Service (_doorctl._tcp)
//
// A controller with its HTTP endpoint enabled advertises one instance of
// _doorctl._tcp in the local domain. The instance name defaults to
// "doorctl-<device>". TXT records:
//
//	dev   intweb device name
//	item  access item this controller opens
//	ver   protocol version spoken with intweb
//
// The device key is never advertised.
package discovery
