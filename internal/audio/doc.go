// Package audio plays the notification sound itself. It decodes WAV, OGG,
// and MP3 files with the beep library and plays them on the default output
// device at a requested volume. Playback is asynchronous: Play returns a
// handle once playback has been initiated and Wait blocks until it finishes.
package audio
