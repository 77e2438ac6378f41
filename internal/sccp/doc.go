// Package sccp implements the Skinny Client Control Protocol wire format.
//
// It provides the framed message codec (12-byte little-endian header plus
// payload), typed message structs with build/parse round trips, and the
// protocol constant tables: message types, call states, tones, lamp and
// ringer modes, softkey templates and keysets, and per-model button layout
// defaults.
//
// The package is transport-agnostic: callers hand it an io.Reader/io.Writer
// (normally a TCP connection with deadlines already applied) and receive
// typed messages back. All multi-byte fields are little-endian on the wire
// regardless of host order.
package sccp
