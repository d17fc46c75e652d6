// Package credential supplies the personal access token used
// to talk to the hosting API.
//
// A Store tries its sources in order: a configured token, the
// output of a credential command, the stored token file, then
// an interactive masked prompt whose answer is written back to
// the file. Discard forgets whichever source produced the last
// token, so the next request moves on to a fresh one.
package credential
