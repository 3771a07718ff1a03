// Package controller connects badge sources, the intweb authorizer and the
// door.
//
// # Event Loop
//
// Requests from the reader, the HTTP endpoint and the operator console go
// through one bounded queue served by a fixed pool of workers. Each worker
// runs one access attempt at a time, so several badges can be authorized
// concurrently while a slow intweb reply only ties up its own worker.
//
// # Fail Closed
//
// The door is opened only for a granted result. Every error, denial,
// cancelled request and full queue leaves it shut.
//
// # HTTP
//
// Handler serves:
//
//	POST /open_door   form field "badge"; 200 on grant, 401 on deny
//	GET  /healthz     liveness
//	GET  /status      JSON counters
package controller
