// Package qrplay turns a scanned QR code or a pasted link into an embedded
// YouTube or YouTube Music player.
//
// Features:
//   - Link resolution for youtube.com, music.youtube.com and youtu.be URLs
//   - Embed URLs with autoplay and JS API parameters
//   - Camera scanning through pluggable capabilities (zbarcam, JS scripts)
//   - A round model with a gated reveal step
package qrplay
