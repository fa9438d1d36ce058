// Package nlu is the api.ai (v1) query client.
//
// A Client sends one utterance per call with a session id and a list of
// contexts, and returns the decoded response. Turning a response into a
// chat reply is the conversation package's job.
//
// When the configured language is "auto", the request language is picked
// per utterance with whatlanggo, falling back to English for short or
// ambiguous text.
package nlu
