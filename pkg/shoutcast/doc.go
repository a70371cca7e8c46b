// Package shoutcast implements both ends of the ICY/Shoutcast wire protocol:
// the response header block a server sends, the in-band metadata frames it
// interleaves with audio, and a client Stream that strips those frames again.
//
// The client side started as a fork of github.com/romantomjak/shoutcast:
//   - Correct metadata stripping: ICY metadata blocks are read and skipped so only audio bytes are returned
//   - Raw TCP dialing, since ICY status lines are not valid HTTP responses
package shoutcast
