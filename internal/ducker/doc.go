// Package ducker orchestrates the duck-and-restore cycle around a
// notification sound: snapshot the volumes of every active playback stream,
// fade them down to a configured floor, play the sound, then fade them back
// to their original levels. Restoration is guaranteed on every path: a
// restore obligation is acquired at snapshot time and released exactly once,
// including on error, cancellation, and signal-driven shutdown. The only
// case where volumes can legitimately stay altered is total backend loss,
// which is reported as a PartialRestoreError.
package ducker
