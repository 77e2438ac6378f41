// Package device holds the telephony data model: devices, lines,
// subchannels and speeddials, plus the registry that owns them across
// sessions and reloads.
package device
