// Package slack is the chat platform adapter used by the fleet.
//
// # Overview
//
// Two halves live here:
//
//   - Client: a small Web API client covering the handful of methods the
//     fleet needs (oauth.access, auth.test, rtm.connect, conversations.open,
//     chat.postMessage).
//   - RTMDialer / Stream: a Real Time Messaging websocket session built on
//     gorilla/websocket, exposing inbound events and outbound replies.
//
// The fleet depends on the Dialer and Stream interfaces only, so tests swap
// in fakes without touching the network.
//
// # Errors
//
// Web API calls that reach the platform but come back with ok=false return
// an *APIError tagged apperr.ErrUpstreamRejected. Network failures and
// non-2xx responses are tagged apperr.ErrTransport.
//
// # Event Classes
//
// Inbound messages are classified the way classic bot frameworks do it:
//
//   - direct_message: channel id starts with "D"
//   - direct_mention: text starts with the bot's <@ID> token
//   - mention: text contains the bot's <@ID> token elsewhere
//   - ambient: everything else
package slack
